package config

import (
	"errors"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins string
	LogLevel       slog.Level

	DatabaseURL string
	RedisURL    string

	JWTSecret string
	TokenTTL  time.Duration

	Gateway GatewayConfig

	KafkaBrokers       []string
	KafkaConsumerGroup string

	CloudinaryURL string

	BrevoAPIKey     string
	EmailSender     string
	EmailSenderName string

	AdminEmail     string
	AdminPassword  string
	AdminFirstName string
	AdminLastName  string

	ReconcileSweepCron   string
	ReconcileSweepMinAge time.Duration
}

// GatewayConfig describes the payment processor. Header name and hash
// algorithm are provider specific, so they are configuration.
type GatewayConfig struct {
	BaseURL         string
	SecretKey       string
	PublicKey       string
	WebhookSecret   string
	SignatureHeader string
	SignatureHash   string
	CallbackURL     string
	Timeout         time.Duration
}

// Load reads .env when present and falls back to the process environment.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Warning: .env file not found, reading from system environment variables")
	}

	secretKey := getEnv("PAYMENT_GATEWAY_SECRET_KEY", "")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("APP_ENV", "development"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 72*time.Hour),

		Gateway: GatewayConfig{
			BaseURL:         getEnv("PAYMENT_GATEWAY_BASE_URL", "https://api.paystack.co"),
			SecretKey:       secretKey,
			PublicKey:       getEnv("PAYMENT_GATEWAY_PUBLIC_KEY", ""),
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", secretKey),
			SignatureHeader: getEnv("PAYMENT_WEBHOOK_SIGNATURE_HEADER", "x-signature"),
			SignatureHash:   getEnv("PAYMENT_WEBHOOK_HASH", "sha512"),
			CallbackURL:     getEnv("PAYMENT_CALLBACK_URL", ""),
			Timeout:         getEnvDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		},

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "spacehub-api"),

		CloudinaryURL: getEnv("CLOUDINARY_URL", ""),

		BrevoAPIKey:     getEnv("BREVO_API_KEY", ""),
		EmailSender:     getEnv("EMAIL_SENDER", ""),
		EmailSenderName: getEnv("EMAIL_SENDER_NAME", "SpaceHub"),

		AdminEmail:     getEnv("ADMIN_EMAIL", ""),
		AdminPassword:  getEnv("ADMIN_PASSWORD", ""),
		AdminFirstName: getEnv("ADMIN_FIRST_NAME", "Space"),
		AdminLastName:  getEnv("ADMIN_LAST_NAME", "Admin"),

		ReconcileSweepCron:   getEnv("RECONCILE_SWEEP_CRON", ""),
		ReconcileSweepMinAge: getEnvDuration("RECONCILE_SWEEP_MIN_AGE", 15*time.Minute),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.Gateway.SecretKey == "" {
		errs = append(errs, errors.New("PAYMENT_GATEWAY_SECRET_KEY is not set"))
	}
	switch c.Gateway.SignatureHash {
	case "sha512", "sha256":
	default:
		errs = append(errs, errors.New("PAYMENT_WEBHOOK_HASH must be sha512 or sha256"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Error parsing duration %s=%q: %v", key, value, err)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
