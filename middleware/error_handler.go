package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/apperr"
)

// ErrorHandler renders every error as {"error": "..."}. Internal failures
// are logged with request context and hidden behind a generic message.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		appErr := apperr.From(err)
		status := appErr.Status()
		message := appErr.Message

		switch {
		case appErr.Kind == apperr.KindInternal:
			message = "internal server error"
			fallthrough
		case status >= fiber.StatusInternalServerError:
			logger.ErrorContext(c.UserContext(), "request failed",
				"method", c.Method(),
				"path", c.Path(),
				"request_id", c.Locals("requestid"),
				"status", status,
				"kind", appErr.Kind.String(),
				"error", err,
			)
		}

		return c.Status(status).JSON(fiber.Map{"error": message})
	}
}
