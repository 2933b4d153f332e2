package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/middleware"
	"github.com/spacehub/spacehub-api/models"
)

func AdminRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	api.Get("/leads", gate.Authenticate(), middleware.RequireRoles(models.RoleAdmin), h.Leads.List)
}
