package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	// no .env file in the test directory; values come straight from
	// the process environment
	t.Setenv("DB_URL", "postgres://localhost/sehatsethu_test")
	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("TOKEN_TTL_MINUTES", "")
	t.Setenv("SMTP_PORT", "")
	t.Setenv("JWT_ISSUER", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/sehatsethu_test", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sehatsethu", cfg.JWTIssuer)
	assert.Equal(t, 1440, cfg.TokenTTLMinutes)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestLoadConfigRequiredVars(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("SECRET_KEY", "test-secret")
	_, err := LoadConfig()
	assert.EqualError(t, err, "DB_URL is required")

	t.Setenv("DB_URL", "postgres://localhost/sehatsethu_test")
	t.Setenv("SECRET_KEY", "")
	_, err = LoadConfig()
	assert.EqualError(t, err, "SECRET_KEY is required")
}
