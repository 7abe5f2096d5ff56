package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_DRIVER", "EDIT_WINDOW", "TYPING_TIMEOUT", "ALLOWED_ORIGINS", "ENVIRONMENT", "SMS_PROVIDER", "EMAIL_PROVIDER", "JWT_SECRET"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Minute, cfg.EditWindow)
	assert.Equal(t, 3*time.Second, cfg.TypingTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:chat.db")
	t.Setenv("EDIT_WINDOW", "10m")
	t.Setenv("RING_TIMEOUT", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://app.kiekky.com, https://kiekky.com")
	t.Setenv("USE_S3", "true")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 10*time.Minute, cfg.EditWindow)
	assert.Equal(t, 45*time.Second, cfg.RingTimeout)
	assert.Equal(t, []string{"https://app.kiekky.com", "https://kiekky.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.UseS3)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"default secret in production", func(c *Config) { c.Environment = "production" }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"zero edit window", func(c *Config) { c.EditWindow = 0 }},
		{"incomplete twilio", func(c *Config) { c.SMSProvider = "twilio" }},
		{"sendgrid without key", func(c *Config) { c.EmailProvider = "sendgrid" }},
		{"unknown sms provider", func(c *Config) { c.SMSProvider = "pigeon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "")
			t.Setenv("JWT_SECRET", "")
			t.Setenv("SMS_PROVIDER", "")
			t.Setenv("EMAIL_PROVIDER", "")
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
