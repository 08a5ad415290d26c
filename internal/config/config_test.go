package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("SMTP_TIMEOUT_MS", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CACHE_TTL_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.SMTPTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL)
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv("SMTP_TIMEOUT_MS", "5000")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.SMTPTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestIntEnvFallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("CACHE_TTL_DAYS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL, "malformed input should fall back to default")
}
