package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/handlers"
	"github.com/spacehub/spacehub-api/middleware"
)

// Handlers bundles every route group's handler.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Courses      *handlers.CourseHandler
	Enrollments  *handlers.EnrollmentHandler
	Payments     *handlers.PaymentHandler
	Leads        *handlers.LeadHandler
	Certificates *handlers.CertificateHandler
	Uploads      *handlers.UploadHandler
	WS           *handlers.WSHandler
	Health       *handlers.HealthHandler
}

func Setup(app *fiber.App, h Handlers, gate *middleware.AuthGate) {
	api := app.Group("/api/v1")

	PublicRoutes(api, h)
	AuthRoutes(api, h, gate)
	CourseRoutes(api, h, gate)
	EnrollmentRoutes(api, h, gate)
	PaymentRoutes(api, h, gate)
	UploadRoutes(api, h, gate)
	AdminRoutes(api, h, gate)
	RealtimeRoutes(api, h)
}
