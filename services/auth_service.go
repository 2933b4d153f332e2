package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const apiKeyPrefix = "sph_"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
}

type AuthService struct {
	db         *gorm.DB
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     *slog.Logger
}

func NewAuthService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		db:         db,
		secret:     []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger,
	}
}

// Register creates a student or instructor account. Admins are seeded, never
// self-registered.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	role := models.RoleStudent
	if strings.TrimSpace(string(in.Role)) != "" {
		parsed, err := models.ParseRole(string(in.Role))
		if err != nil {
			return nil, "", apperr.Validation("unknown role")
		}
		role = parsed
	}
	if role == models.RoleAdmin {
		return nil, "", apperr.Validation("role admin cannot be self-assigned")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, "", apperr.Internal(err, "failed to hash password")
	}

	user := models.User{
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Password:  string(hashedPassword),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      role,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", apperr.ErrEmailTaken
		}
		return nil, "", apperr.Internal(err, "failed to create user")
	}

	token, err := s.IssueToken(&user)
	if err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return &user, token, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", apperr.ErrInvalidCredentials
		}
		return nil, "", apperr.Internal(err, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", apperr.ErrInvalidCredentials
	}

	token, err := s.IssueToken(&user)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": user.ID.String(),
		"email":   user.Email,
		"role":    string(user.Role),
		"iat":     now.Unix(),
		"exp":     now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperr.Internal(err, "failed to create token")
	}
	return signed, nil
}

// ParseToken verifies an HS256 bearer token outside the HTTP middleware chain,
// e.g. for the websocket auth frame.
func (s *AuthService) ParseToken(raw string) (*Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return IdentityFromClaims(claims)
}

// IdentityFromClaims rejects tokens whose role is outside the closed set.
func IdentityFromClaims(claims jwt.MapClaims) (*Identity, error) {
	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, fmt.Errorf("bad user_id claim: %w", err))
	}

	rawRole, _ := claims["role"].(string)
	role, err := models.ParseRole(rawRole)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, err)
	}

	email, _ := claims["email"].(string)
	return &Identity{UserID: userID, Email: email, Role: role}, nil
}

func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal(err, "failed to load user")
	}
	return &user, nil
}

// IssueAPIKey stores only the sha256 of the key. The plaintext is returned
// once and cannot be recovered.
func (s *AuthService) IssueAPIKey(ctx context.Context, userID uuid.UUID, name string) (*models.APIKey, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", apperr.Internal(err, "failed to generate api key")
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(buf)

	key := models.APIKey{
		UserID:  userID,
		Name:    name,
		Prefix:  plaintext[:len(apiKeyPrefix)+8],
		KeyHash: hashAPIKey(plaintext),
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, "", apperr.Internal(err, "failed to store api key")
	}

	s.logger.InfoContext(ctx, "api key issued", "user_id", userID, "prefix", key.Prefix)
	return &key, plaintext, nil
}

func (s *AuthService) ResolveAPIKey(ctx context.Context, plaintext string) (*Identity, error) {
	if !strings.HasPrefix(plaintext, apiKeyPrefix) {
		return nil, apperr.ErrUnauthenticated
	}

	var key models.APIKey
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("key_hash = ? AND revoked_at IS NULL", hashAPIKey(plaintext)).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, apperr.Internal(err, "failed to resolve api key")
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", key.ID).Update("last_used_at", now).Error; err != nil {
		s.logger.WarnContext(ctx, "failed to touch api key", "key_id", key.ID, "error", err)
	}

	role, err := models.ParseRole(string(key.User.Role))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, err)
	}
	return &Identity{UserID: key.User.ID, Email: key.User.Email, Role: role}, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", keyID, userID).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to revoke api key")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("api key not found")
	}
	return nil
}

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
