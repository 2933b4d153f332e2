package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/services"
)

type CreateEnrollmentRequest struct {
	CourseID string `json:"course_id" validate:"required,uuid"`
}

type ProgressRequest struct {
	Progress *int `json:"progress" validate:"required"`
}

type EnrollmentHandler struct {
	enrollments *services.EnrollmentService
	reconciler  *services.PaymentReconciler
}

func NewEnrollmentHandler(enrollments *services.EnrollmentService, reconciler *services.PaymentReconciler) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, reconciler: reconciler}
}

func (h *EnrollmentHandler) Create(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	var req CreateEnrollmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	enrollment, err := h.enrollments.Create(c.UserContext(), identity.UserID, uuid.MustParse(req.CourseID))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"enrollment": enrollment,
		"state":      enrollment.PaymentState(),
	})
}

func (h *EnrollmentHandler) List(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	views, err := h.enrollments.List(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(views)
}

// UpdateProgress rejects values outside [0,100] and any decrease.
func (h *EnrollmentHandler) UpdateProgress(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	enrollmentID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req ProgressRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	enrollment, err := h.enrollments.UpdateProgress(c.UserContext(), identity.UserID, enrollmentID, *req.Progress)
	if err != nil {
		return err
	}
	return c.JSON(enrollment)
}

func (h *EnrollmentHandler) Checkout(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	enrollmentID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	session, err := h.reconciler.BeginCheckout(c.UserContext(), identity.UserID, enrollmentID)
	if err != nil {
		return err
	}
	return c.JSON(session)
}
