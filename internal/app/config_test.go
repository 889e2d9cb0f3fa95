package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("GUESS_MIN_INTERVAL", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://hunt.example, https://admin.example")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.GuessMinInterval)
	assert.Equal(t, 512, cfg.GuessMaxLength)
	assert.Equal(t, []string{"https://hunt.example", "https://admin.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunter2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
guess_min_interval: 30s
db:
  driver: sqlite
  sqlite_path: /tmp/hunt.db
worker:
  concurrency: 8
`), 0o600))
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("HTTP_ADDR", ":8081")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.GuessMinInterval)
	assert.Equal(t, "/tmp/hunt.db", cfg.DB.SQLitePath)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "redis:6379", cfg.RedisAddr, "keys absent from the file keep the env value")
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("CONFIG_FILE", "")
	_, err := LoadConfig(nil)
	assert.Error(t, err)
}
