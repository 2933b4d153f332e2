package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type BusConfig struct {
	KafkaBrokers  []string
	ConsumerGroup string
}

// Bus publishes events over watermill. Without brokers it runs on an
// in-process go channel, which is enough for a single instance.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	shared     bool
	logger     *slog.Logger
}

func NewBus(cfg BusConfig, logger *slog.Logger) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if len(cfg.KafkaBrokers) == 0 {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		logger.Info("event bus started", "transport", "gochannel")
		return &Bus{publisher: ch, subscriber: ch, shared: true, logger: logger}, nil
	}

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}

	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               cfg.KafkaBrokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         cfg.ConsumerGroup,
		OverwriteSaramaConfig: kafka.DefaultSaramaSubscriberConfig(),
	}, wmLogger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	logger.Info("event bus started", "transport", "kafka", "brokers", cfg.KafkaBrokers)
	return &Bus{publisher: pub, subscriber: sub, logger: logger}, nil
}

// Publish sends the event on a topic named after its type.
func (b *Bus) Publish(ctx context.Context, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(eventType, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe runs handler for each event of the given type until ctx is done.
// Handler failures are logged and the message is acked: subscribers send
// notifications, and a redelivery loop would spam the recipient.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler Handler) error {
	messages, err := b.subscriber.Subscribe(ctx, eventType)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}

	go func() {
		for msg := range messages {
			b.dispatch(ctx, eventType, msg, handler)
		}
	}()
	return nil
}

func (b *Bus) dispatch(ctx context.Context, eventType string, msg *message.Message, handler Handler) {
	defer msg.Ack()

	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		b.logger.Error("dropping malformed event", "topic", eventType, "message_id", msg.UUID, "error", err)
		return
	}
	if err := handler(ctx, event); err != nil {
		b.logger.Error("event handler failed", "event", event.Type, "event_id", event.ID, "error", err)
	}
}

func (b *Bus) Close() error {
	err := b.publisher.Close()
	if !b.shared {
		err = errors.Join(err, b.subscriber.Close())
	}
	return err
}
