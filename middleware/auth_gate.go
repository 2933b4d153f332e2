package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/services"
)

const (
	identityKey = "identity"
	tokenKey    = "user"

	APIKeyHeader = "x-api-key"
)

type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (*services.Identity, error)
}

type AuthGate struct {
	keys   APIKeyResolver
	bearer fiber.Handler
}

func NewAuthGate(jwtSecret string, keys APIKeyResolver) *AuthGate {
	g := &AuthGate{keys: keys}
	g.bearer = jwtware.New(jwtware.Config{
		SigningKey:     []byte(jwtSecret),
		SigningMethod:  "HS256",
		ContextKey:     tokenKey,
		SuccessHandler: onToken,
		ErrorHandler:   jwtError,
	})
	return g
}

// Authenticate tries x-api-key first and falls back to the bearer token.
// Only when neither validates does the request fail with 401.
func (g *AuthGate) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key := c.Get(APIKeyHeader); key != "" {
			identity, err := g.keys.ResolveAPIKey(c.UserContext(), key)
			if err == nil {
				c.Locals(identityKey, identity)
				return c.Next()
			}
			if apperr.KindOf(err) != apperr.KindUnauthenticated {
				return err
			}
		}
		return g.bearer(c)
	}
}

func onToken(c *fiber.Ctx) error {
	token, ok := c.Locals(tokenKey).(*jwt.Token)
	if !ok {
		return apperr.ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return apperr.ErrUnauthenticated
	}

	identity, err := services.IdentityFromClaims(claims)
	if err != nil {
		return err
	}
	c.Locals(identityKey, identity)
	return c.Next()
}

func jwtError(c *fiber.Ctx, err error) error {
	return apperr.Wrap(apperr.ErrUnauthenticated, err)
}

// RequireRoles must run after Authenticate. A role outside the allow-list is
// 403, distinct from the 401 of a missing identity.
func RequireRoles(roles ...models.Role) fiber.Handler {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity, ok := CurrentIdentity(c)
		if !ok {
			return apperr.ErrUnauthenticated
		}
		if _, ok := allowed[identity.Role]; !ok {
			return apperr.ErrForbidden
		}
		return c.Next()
	}
}

func CurrentIdentity(c *fiber.Ctx) (*services.Identity, bool) {
	identity, ok := c.Locals(identityKey).(*services.Identity)
	return identity, ok && identity != nil
}
