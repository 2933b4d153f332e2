package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const brevoBaseURL = "https://api.brevo.com/v3"

type Mailer interface {
	Send(ctx context.Context, toEmail, toName, subject, htmlContent string) error
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

// BrevoService sends transactional email through the Brevo SMTP API.
type BrevoService struct {
	client      *resty.Client
	senderEmail string
	senderName  string
}

// NewBrevoService returns nil when the sender is not fully configured;
// callers then fall back to NopMailer.
func NewBrevoService(apiKey, senderEmail, senderName string, logger *slog.Logger) *BrevoService {
	if apiKey == "" || senderEmail == "" || senderName == "" {
		logger.Warn("email service not configured, missing api key, sender email or sender name")
		return nil
	}

	client := resty.New().
		SetBaseURL(brevoBaseURL).
		SetHeader("accept", "application/json").
		SetHeader("api-key", apiKey).
		SetTimeout(10 * time.Second)

	logger.Info("email service initialized", "sender", senderEmail)
	return &BrevoService{client: client, senderEmail: senderEmail, senderName: senderName}
}

func (s *BrevoService) Send(ctx context.Context, toEmail, toName, subject, htmlContent string) error {
	at := strings.Index(toEmail, "@")
	if at < 1 {
		return fmt.Errorf("invalid recipient email: %s", toEmail)
	}
	if toName == "" {
		toName = toEmail[:at]
	}

	payload := brevoPayload{
		Sender:      map[string]string{"name": s.senderName, "email": s.senderEmail},
		To:          []map[string]string{{"email": toEmail, "name": toName}},
		Subject:     subject,
		HTMLContent: htmlContent,
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/smtp/email")
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("brevo rejected email: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type NopMailer struct {
	Logger *slog.Logger
}

func (m NopMailer) Send(ctx context.Context, toEmail, _, subject, _ string) error {
	m.Logger.DebugContext(ctx, "email skipped, mailer disabled", "to", toEmail, "subject", subject)
	return nil
}
