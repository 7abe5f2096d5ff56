// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const devJWTSecret = "your-super-secret-key-change-this-in-production"

// Config holds all application configuration
type Config struct {
	// Server
	Port           string
	Environment    string
	AllowedOrigins []string

	// Storage
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	RedisURL       string

	// Security
	JWTSecret string

	// Realtime
	EditWindow        time.Duration
	TypingTimeout     time.Duration
	RingTimeout       time.Duration
	InitiateTimeout   time.Duration
	CallSweepInterval time.Duration
	SendBufferSize    int

	// Media (S3)
	UseS3             bool
	AWSRegion         string
	S3BucketName      string
	MediaCDNURL       string
	MediaUploadExpiry time.Duration

	// Push
	FCMCredentialsFile string

	// SMS
	SMSProvider      string // "twilio" or "mock"
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Email
	EmailProvider  string // "sendgrid" or "mock"
	SendGridAPIKey string
	EmailFrom      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "*"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/kiekky?sslmode=disable"),
		RedisURL:       getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", devJWTSecret),

		EditWindow:        getEnvDuration("EDIT_WINDOW", "5m"),
		TypingTimeout:     getEnvDuration("TYPING_TIMEOUT", "3s"),
		RingTimeout:       getEnvDuration("RING_TIMEOUT", "45s"),
		InitiateTimeout:   getEnvDuration("INITIATE_TIMEOUT", "30s"),
		CallSweepInterval: getEnvDuration("CALL_SWEEP_INTERVAL", "10s"),
		SendBufferSize:    getEnvInt("WS_SEND_BUFFER", 256),

		UseS3:             getEnvBool("USE_S3", false),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		S3BucketName:      getEnv("S3_BUCKET_NAME", "kiekky-media"),
		MediaCDNURL:       getEnv("MEDIA_CDN_URL", ""),
		MediaUploadExpiry: getEnvDuration("MEDIA_UPLOAD_EXPIRY", "15m"),

		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),

		SMSProvider:      getEnv("SMS_PROVIDER", "mock"),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		EmailProvider:  getEnv("EMAIL_PROVIDER", "mock"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", "noreply@kiekky.com"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.JWTSecret == devJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT secret must be changed for production")
	}

	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database driver: %s", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" && c.DatabaseDriver == "postgres" {
		return fmt.Errorf("database URL is required")
	}

	if c.EditWindow <= 0 {
		return fmt.Errorf("edit window must be positive")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("typing timeout must be positive")
	}
	if c.RingTimeout <= 0 || c.InitiateTimeout <= 0 || c.CallSweepInterval <= 0 {
		return fmt.Errorf("call timeouts must be positive")
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("websocket send buffer must be at least 1")
	}

	if c.UseS3 && c.S3BucketName == "" {
		return fmt.Errorf("S3 configuration incomplete")
	}

	switch c.SMSProvider {
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("Twilio configuration incomplete")
		}
	case "mock", "":
	default:
		return fmt.Errorf("invalid SMS provider: %s", c.SMSProvider)
	}

	switch c.EmailProvider {
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SendGrid API key is required")
		}
	case "mock", "":
	default:
		return fmt.Errorf("invalid email provider: %s", c.EmailProvider)
	}

	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
