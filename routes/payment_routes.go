package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/middleware"
)

func PaymentRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	api.Post("/webhooks/payment-provider", h.Payments.Webhook)

	payments := api.Group("/payments", gate.Authenticate())
	payments.Get("/verify/:reference", h.Payments.Verify)
}
