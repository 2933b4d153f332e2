package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/services"
)

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Role      string `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type APIKeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type AuthResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, token, err := h.auth.Register(c.UserContext(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      models.Role(req.Role),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{User: user, Token: token})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, token, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(AuthResponse{User: user, Token: token})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	user, err := h.auth.GetUser(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// CreateAPIKey returns the plaintext key exactly once.
func (h *AuthHandler) CreateAPIKey(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	var req APIKeyRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	key, plaintext, err := h.auth.IssueAPIKey(c.UserContext(), identity.UserID, req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         key.ID,
		"name":       key.Name,
		"prefix":     key.Prefix,
		"api_key":    plaintext,
		"created_at": key.CreatedAt,
	})
}

func (h *AuthHandler) RevokeAPIKey(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	keyID, err := paramUUID(c, "keyId")
	if err != nil {
		return err
	}
	if err := h.auth.RevokeAPIKey(c.UserContext(), identity.UserID, keyID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
