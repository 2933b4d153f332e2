package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/middleware"
	"github.com/spacehub/spacehub-api/services"
)

var validate = validator.New()

// bind parses the JSON body into req and runs its validate tags.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.Validation("cannot parse JSON")
	}
	if err := validate.Struct(req); err != nil {
		return apperr.Validation(err.Error())
	}
	return nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name)
	}
	return id, nil
}

func caller(c *fiber.Ctx) (*services.Identity, error) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return identity, nil
}
