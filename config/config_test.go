package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "secret")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, "smtp", cfg.Mail.Transport)
	assert.Equal(t, "", cfg.Storage.Backend)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, ":9091", cfg.Mail.MetricsAddr)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_ProductionUsesSendGrid(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "secret")

	cfg := LoadConfig()

	assert.Equal(t, "sendgrid", cfg.Mail.Transport)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "  secret  ")
	t.Setenv("JWT_EXPIRES_IN", "30d")
	t.Setenv("PASSWORD_RESET_TTL", "15m")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_SSL", "true")
	t.Setenv("APP_BASE_URL", "https://eims.example.com/")
	t.Setenv("MAIL_TRANSPORT", "QUEUE")
	t.Setenv("MQ_BACKEND", "pubsub")
	t.Setenv("TRUST_PROXY", "true")

	cfg := LoadConfig()

	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, "https://eims.example.com", cfg.BaseURL)
	assert.Equal(t, "queue", cfg.Mail.Transport)
	assert.Equal(t, "pubsub", cfg.MQ.Backend)
	assert.True(t, cfg.TrustProxy)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("JWT_EXPIRES_IN", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.TokenTTL)
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg := LoadConfig()
	cfg.Auth.JWTSecret = ""
	cfg.Mail.Transport = "pigeon"
	cfg.Storage.Backend = "floppy"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "MAIL_TRANSPORT")
	assert.Contains(t, err.Error(), "STORAGE_BACKEND")
}
