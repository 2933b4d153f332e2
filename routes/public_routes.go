package routes

import (
	"github.com/gofiber/fiber/v2"
)

func PublicRoutes(api fiber.Router, h Handlers) {
	api.Get("/health", h.Health.Check)
	api.Post("/leads", h.Leads.Capture)
}
