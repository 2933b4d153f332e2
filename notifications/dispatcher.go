package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"gorm.io/gorm"
)

type Subscriber interface {
	Subscribe(ctx context.Context, eventType string, handler events.Handler) error
}

type Pusher interface {
	SendToUser(userID uuid.UUID, payload interface{}) bool
}

type CertificateIssuer interface {
	Issue(ctx context.Context, enrollmentID uuid.UUID) (*models.Certificate, error)
}

// CatalogInvalidator drops cached course listings whose counters moved.
type CatalogInvalidator interface {
	InvalidateCatalog(ctx context.Context)
}

// PaymentStatusPush is the websocket frame sent to a student's dashboard.
type PaymentStatusPush struct {
	Type         string              `json:"type"`
	EnrollmentID uuid.UUID           `json:"enrollment_id"`
	CourseID     uuid.UUID           `json:"course_id"`
	Reference    string              `json:"reference"`
	State        models.PaymentState `json:"state"`
	Progress     int                 `json:"progress"`
}

// Dispatcher turns enrollment events into emails, websocket pushes and
// certificates. Every side effect is best effort.
type Dispatcher struct {
	db      *gorm.DB
	mailer  Mailer
	pusher  Pusher
	certs   CertificateIssuer
	catalog CatalogInvalidator
	logger  *slog.Logger
}

func NewDispatcher(db *gorm.DB, mailer Mailer, pusher Pusher, certs CertificateIssuer, catalog CatalogInvalidator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{db: db, mailer: mailer, pusher: pusher, certs: certs, catalog: catalog, logger: logger}
}

func (d *Dispatcher) Register(ctx context.Context, bus Subscriber) error {
	handlers := map[string]events.Handler{
		events.EnrollmentConfirmed:         d.HandleConfirmed,
		events.EnrollmentRejected:          d.HandleRejected,
		events.EnrollmentProgressCompleted: d.HandleProgressCompleted,
	}
	for eventType, h := range handlers {
		if err := bus.Subscribe(ctx, eventType, h); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) HandleConfirmed(ctx context.Context, event events.Event) error {
	payload, student, course, err := d.load(ctx, event)
	if err != nil {
		return err
	}

	if d.catalog != nil {
		d.catalog.InvalidateCatalog(ctx)
	}
	d.push(payload, models.StateConfirmed)

	body := fmt.Sprintf(
		"<h1>You're enrolled!</h1><p>Hi %s,</p><p>Your payment for <b>%s</b> was confirmed (reference %s). You can start learning right away from your dashboard.</p>",
		student.FirstName, course.Title, payload.Reference,
	)
	return d.send(ctx, student, "Enrollment confirmed: "+course.Title, body)
}

func (d *Dispatcher) HandleRejected(ctx context.Context, event events.Event) error {
	payload, student, course, err := d.load(ctx, event)
	if err != nil {
		return err
	}

	d.push(payload, models.StateRejected)

	body := fmt.Sprintf(
		"<h1>Payment not completed</h1><p>Hi %s,</p><p>We could not confirm your payment for <b>%s</b> (reference %s). No enrollment was created; you can enroll again to retry.</p>",
		student.FirstName, course.Title, payload.Reference,
	)
	return d.send(ctx, student, "Payment issue: "+course.Title, body)
}

func (d *Dispatcher) HandleProgressCompleted(ctx context.Context, event events.Event) error {
	payload, student, course, err := d.load(ctx, event)
	if err != nil {
		return err
	}
	if d.certs == nil {
		return nil
	}

	cert, err := d.certs.Issue(ctx, payload.EnrollmentID)
	if err != nil {
		return fmt.Errorf("issue certificate for %s: %w", payload.EnrollmentID, err)
	}

	body := fmt.Sprintf(
		"<h1>Congratulations, %s!</h1><p>You completed <b>%s</b>.</p><p><a href='%s'>Download your certificate</a></p>",
		student.FirstName, course.Title, cert.CertificateURL,
	)
	return d.send(ctx, student, "Your certificate for "+course.Title, body)
}

func (d *Dispatcher) load(ctx context.Context, event events.Event) (events.EnrollmentEvent, models.User, models.Course, error) {
	var (
		payload events.EnrollmentEvent
		student models.User
		course  models.Course
	)
	if err := event.Decode(&payload); err != nil {
		return payload, student, course, err
	}
	if err := d.db.WithContext(ctx).First(&student, "id = ?", payload.StudentID).Error; err != nil {
		return payload, student, course, fmt.Errorf("load student %s: %w", payload.StudentID, err)
	}
	if err := d.db.WithContext(ctx).First(&course, "id = ?", payload.CourseID).Error; err != nil {
		return payload, student, course, fmt.Errorf("load course %s: %w", payload.CourseID, err)
	}
	return payload, student, course, nil
}

func (d *Dispatcher) push(payload events.EnrollmentEvent, state models.PaymentState) {
	if d.pusher == nil {
		return
	}
	d.pusher.SendToUser(payload.StudentID, PaymentStatusPush{
		Type:         "payment_status",
		EnrollmentID: payload.EnrollmentID,
		CourseID:     payload.CourseID,
		Reference:    payload.Reference,
		State:        state,
		Progress:     payload.Progress,
	})
}

func (d *Dispatcher) send(ctx context.Context, to models.User, subject, body string) error {
	if err := d.mailer.Send(ctx, to.Email, to.FullName(), subject, body); err != nil {
		return fmt.Errorf("email %s: %w", to.Email, err)
	}
	d.logger.InfoContext(ctx, "notification sent", "user_id", to.ID, "subject", subject)
	return nil
}
