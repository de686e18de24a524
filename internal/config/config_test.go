package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "AI", cfg.AIAuthor)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.S3.Enabled())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
log_level: debug
ai_author: Assistant
token_ttl: 30m
s3:
  endpoint: ${TEST_S3_HOST}
  access_key: key
  secret_key: secret
  bucket: exports
`), 0o600))
	t.Setenv("TEST_S3_HOST", "localhost:9001")
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("REDLINE_TOKEN_TTL_SECONDS", "600")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr, "environment wins over the file")
	assert.Equal(t, "Assistant", cfg.AIAuthor)
	assert.Equal(t, 10*time.Minute, cfg.TokenTTL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "localhost:9001", cfg.S3.Endpoint)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ReposDir, cfg.ReposDir)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "short secret", env: map[string]string{"REDLINE_JWT_SECRET": "abc"}},
		{name: "unknown log level", env: map[string]string{"LOG_LEVEL": "chatty"}},
		{name: "ttl too short", env: map[string]string{"REDLINE_TOKEN_TTL_SECONDS": "5"}},
		{name: "s3 without credentials", env: map[string]string{"S3_ENDPOINT": "localhost:9000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("REDLINE_TEST_INT", "nope")
	t.Setenv("REDLINE_TEST_BOOL", "true")

	assert.Equal(t, 7, getenvInt("REDLINE_TEST_INT", 7))
	assert.True(t, getenvBool("REDLINE_TEST_BOOL", false))
	assert.Equal(t, "x", getenv("REDLINE_TEST_UNSET", "x"))
}

func TestLoadEmptyEnvDisablesOptionalServices(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("MEILI_URL", " ")
	t.Setenv("API_ADDR", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.MeiliURL)
	assert.Equal(t, ":8787", cfg.Addr, "required settings keep their default")
	assert.Equal(t, "y", getenvOptional("REDLINE_TEST_UNSET", "y"))
}
