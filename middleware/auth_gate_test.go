package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "gate-secret"

type stubKeys struct {
	keys  map[string]*services.Identity
	err   error
	calls int
}

func (s *stubKeys) ResolveAPIKey(_ context.Context, key string) (*services.Identity, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if id, ok := s.keys[key]; ok {
		return id, nil
	}
	return nil, apperr.ErrUnauthenticated
}

func bearer(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"email":   "u@spacehub.test",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func newApp(keys *stubKeys, roles ...models.Role) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))})
	gate := NewAuthGate(testSecret, keys)

	handlers := []fiber.Handler{gate.Authenticate()}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		identity, _ := CurrentIdentity(c)
		return c.JSON(identity)
	})
	app.Get("/private", handlers...)
	return app
}

func do(t *testing.T, app *fiber.App, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestAuthenticate_APIKeyWinsOverBearer(t *testing.T) {
	keyOwner := uuid.New()
	keys := &stubKeys{keys: map[string]*services.Identity{
		"sph_good": {UserID: keyOwner, Role: models.RoleInstructor},
	}}
	app := newApp(keys)

	status, body := do(t, app, map[string]string{
		APIKeyHeader:    "sph_good",
		"Authorization": bearer(t, uuid.New(), "student"),
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, keyOwner.String(), body["user_id"])
	assert.Equal(t, "instructor", body["role"])
}

func TestAuthenticate_FallsBackToBearer(t *testing.T) {
	keys := &stubKeys{}
	app := newApp(keys)
	user := uuid.New()

	status, body := do(t, app, map[string]string{
		APIKeyHeader:    "sph_revoked",
		"Authorization": bearer(t, user, "student"),
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, user.String(), body["user_id"])
	assert.Equal(t, 1, keys.calls)

	status, _ = do(t, app, map[string]string{"Authorization": bearer(t, user, "student")})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, keys.calls, "no key header, no key lookup")
}

func TestAuthenticate_Unauthenticated(t *testing.T) {
	app := newApp(&stubKeys{})

	cases := map[string]map[string]string{
		"no credentials":   {},
		"bad key only":     {APIKeyHeader: "sph_bad"},
		"both invalid":     {APIKeyHeader: "sph_bad", "Authorization": "Bearer garbage"},
		"unknown role":     {"Authorization": bearer(t, uuid.New(), "superuser")},
		"wrong auth shape": {"Authorization": "Basic dXNlcjpwYXNz"},
	}
	for name, headers := range cases {
		status, body := do(t, app, headers)
		assert.Equal(t, http.StatusUnauthorized, status, name)
		assert.Equal(t, apperr.ErrUnauthenticated.Message, body["error"], name)
	}
}

func TestAuthenticate_KeyStoreFailureIsNotAuthFailure(t *testing.T) {
	app := newApp(&stubKeys{err: apperr.Internal(errors.New("db down"), "failed to resolve api key")})

	status, body := do(t, app, map[string]string{APIKeyHeader: "sph_x"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body["error"])
}

func TestRequireRoles(t *testing.T) {
	app := newApp(&stubKeys{}, models.RoleInstructor, models.RoleAdmin)

	status, body := do(t, app, map[string]string{"Authorization": bearer(t, uuid.New(), "student")})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.ErrForbidden.Message, body["error"])

	for _, role := range []string{"instructor", "admin"} {
		status, _ := do(t, app, map[string]string{"Authorization": bearer(t, uuid.New(), role)})
		assert.Equal(t, http.StatusOK, status, role)
	}

	status, _ = do(t, app, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
