package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/storage"
)

type UploadSigner interface {
	SignUpload(folder string) (*storage.UploadSignature, error)
}

type UploadHandler struct {
	signer UploadSigner
}

// NewUploadHandler accepts a nil signer when Cloudinary is not configured;
// the endpoint then answers 503.
func NewUploadHandler(signer UploadSigner) *UploadHandler {
	return &UploadHandler{signer: signer}
}

// Signature returns signed params so the browser can upload a course
// thumbnail straight to Cloudinary.
func (h *UploadHandler) Signature(c *fiber.Ctx) error {
	if h.signer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "uploads are not configured")
	}
	sig, err := h.signer.SignUpload(storage.ThumbnailFolder)
	if err != nil {
		return apperr.Internal(err, "failed to sign upload params")
	}
	return c.JSON(sig)
}
