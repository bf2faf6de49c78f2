package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DISCORD_TOKEN", "DATABASE_URL", "REDIS_URL", "WEB_BIND", "DISCORD_CLIENT_ID",
		"DISCORD_CLIENT_SECRET", "DISCORD_REDIRECT_URI", "JWT_SECRET", "LOG_LEVEL",
		"LOCK_EXPIRY", "RETENTION_TTL", "RETENTION_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.WebBind)
	assert.Equal(t, "http://localhost:3000", cfg.WebUIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.LockExpiry)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionTTL)
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("DISCORD_CLIENT_ID", "")
	t.Setenv("LOCK_EXPIRY", "30")
	t.Setenv("RETENTION_TTL", "72h")
	t.Setenv("RETENTION_INTERVAL", "15m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.LockExpiry)
	assert.Equal(t, 72*time.Hour, cfg.RetentionTTL)
	assert.Equal(t, 15*time.Minute, cfg.RetentionInterval)

	t.Setenv("RETENTION_TTL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "RETENTION_TTL")

	t.Setenv("RETENTION_TTL", "-1h")
	_, err = Load()
	assert.ErrorContains(t, err, "must be positive")
}

func TestLoadRequiresOAuthSecret(t *testing.T) {
	t.Setenv("DISCORD_CLIENT_ID", "123")
	t.Setenv("DISCORD_CLIENT_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DISCORD_CLIENT_SECRET")
}

func TestExtractBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://warikan.example.com/api/auth/callback", "https://warikan.example.com"},
		{"http://localhost:8080/cb", "http://localhost:8080"},
		{"not a url", "http://localhost:3000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractBaseURL(tt.in), tt.in)
	}
}
