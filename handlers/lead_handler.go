package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/services"
)

type LeadRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Name    string `json:"name" validate:"max=200"`
	Source  string `json:"source" validate:"max=100"`
	Message string `json:"message" validate:"max=2000"`
}

type LeadHandler struct {
	leads *services.LeadService
}

func NewLeadHandler(leads *services.LeadService) *LeadHandler {
	return &LeadHandler{leads: leads}
}

func (h *LeadHandler) Capture(c *fiber.Ctx) error {
	var req LeadRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	lead, err := h.leads.Capture(c.UserContext(), services.LeadInput{
		Email:   req.Email,
		Name:    req.Name,
		Source:  req.Source,
		Message: req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(lead)
}

func (h *LeadHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	leads, total, err := h.leads.List(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data":   leads,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
