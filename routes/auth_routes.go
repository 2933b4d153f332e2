package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/middleware"
)

func AuthRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	auth := api.Group("/auth")
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)

	auth.Get("/me", gate.Authenticate(), h.Auth.Me)
	auth.Post("/api-keys", gate.Authenticate(), h.Auth.CreateAPIKey)
	auth.Delete("/api-keys/:keyId", gate.Authenticate(), h.Auth.RevokeAPIKey)
}
