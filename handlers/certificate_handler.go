package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/services"
)

type CertificateHandler struct {
	certificates *services.CertificateService
}

func NewCertificateHandler(certificates *services.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

func (h *CertificateHandler) List(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	certs, err := h.certificates.List(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(certs)
}
