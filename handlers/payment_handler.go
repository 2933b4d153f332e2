package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/services"
)

type PaymentHandler struct {
	reconciler      *services.PaymentReconciler
	signatureHeader string
	logger          *slog.Logger
}

func NewPaymentHandler(reconciler *services.PaymentReconciler, signatureHeader string, logger *slog.Logger) *PaymentHandler {
	if signatureHeader == "" {
		signatureHeader = "x-signature"
	}
	return &PaymentHandler{reconciler: reconciler, signatureHeader: signatureHeader, logger: logger}
}

func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}

	result, err := h.reconciler.VerifyForUser(c.UserContext(), *identity, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Webhook acks everything it authenticated and could file, including
// unknown references, so the provider stops redelivering them. Store
// failures return 500 to trigger a redelivery.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	err := h.reconciler.HandleWebhook(c.UserContext(), body, c.Get(h.signatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrReferenceNotFound):
		h.logger.WarnContext(c.UserContext(), "webhook for unknown reference acknowledged")
	default:
		return err
	}
	return c.JSON(fiber.Map{"received": true})
}
