package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/middleware"
	"github.com/spacehub/spacehub-api/models"
)

func UploadRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	uploads := api.Group("/uploads", gate.Authenticate(), middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin))
	uploads.Post("/signature", h.Uploads.Signature)
}
