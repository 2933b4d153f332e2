package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/middleware"
	"github.com/spacehub/spacehub-api/models"
)

func CourseRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	courses := api.Group("/courses")
	courses.Get("", h.Courses.List)
	courses.Get("/:id", h.Courses.Get)

	authoring := middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin)
	courses.Post("", gate.Authenticate(), authoring, h.Courses.Create)
	courses.Patch("/:id", gate.Authenticate(), authoring, h.Courses.Update)
}

func EnrollmentRoutes(api fiber.Router, h Handlers, gate *middleware.AuthGate) {
	enrollments := api.Group("/enrollments", gate.Authenticate())
	enrollments.Post("", h.Enrollments.Create)
	enrollments.Get("", h.Enrollments.List)
	enrollments.Patch("/:id/progress", h.Enrollments.UpdateProgress)
	enrollments.Post("/:id/checkout", h.Enrollments.Checkout)

	api.Get("/certificates", gate.Authenticate(), h.Certificates.List)
}
