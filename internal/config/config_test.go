package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// Save current env and restore later
	origHost := os.Getenv("DB_HOST")
	defer os.Setenv("DB_HOST", origHost)

	os.Setenv("DB_HOST", "test-host")
	os.Setenv("QBO_RATE_LIMIT_PER_MIN", "120")
	os.Setenv("TOKEN_REFRESH_BUFFER_SEC", "60")
	os.Setenv("ARCHIVE_USE_SSL", "true")
	defer func() {
		os.Unsetenv("QBO_RATE_LIMIT_PER_MIN")
		os.Unsetenv("TOKEN_REFRESH_BUFFER_SEC")
		os.Unsetenv("ARCHIVE_USE_SSL")
	}()

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 120, cfg.QBO.RateLimitPerMin)
	assert.Equal(t, time.Minute, cfg.TokenStore.RefreshBuffer)
	assert.True(t, cfg.Archive.UseSSL)
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "v3", cfg.QBO.APIVersion)
	assert.Equal(t, 1000, cfg.QBO.PageSize)
	assert.Equal(t, 3, cfg.QBO.MaxRetries)
	assert.Equal(t, "file", cfg.TokenStore.Backend)
	assert.Equal(t, "qbo-raw-data", cfg.Archive.Bucket)
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	os.Setenv(key, "value")
	defer os.Unsetenv(key)

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	os.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	os.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	os.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	os.Unsetenv(key)
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	os.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	os.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	os.Unsetenv(key)
	assert.Equal(t, 10, getEnvInt(key, 10))
}
