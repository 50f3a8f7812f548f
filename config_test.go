package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig(envMap(nil))
		require.NoError(t, err)
		assert.Equal(t, defaultConfig(), cfg)
	})

	t.Run("env_overrides", func(t *testing.T) {
		cfg, err := loadConfig(envMap(map[string]string{
			"HORIZON_HTTP_ADDR":        "0.0.0.0:9000",
			"HORIZON_STORE":            "redis",
			"HORIZON_REDIS_PREFIX":     "app:",
			"HORIZON_AUTH_MODE":        "owner",
			"HORIZON_OWNER_FIELD":      "author",
			"HORIZON_REQUEST_TIMEOUT":  "2s",
			"HORIZON_MAX_BATCH":        "50",
			"HORIZON_SHUTDOWN_TIMEOUT": " 1m ",
		}))
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr)
		assert.Equal(t, storeRedis, cfg.Store)
		assert.Equal(t, "app:", cfg.RedisPrefix)
		assert.Equal(t, authOwner, cfg.AuthMode)
		assert.Equal(t, "author", cfg.OwnerField)
		assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
		assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
		assert.Equal(t, 50, cfg.MaxBatch)
	})

	t.Run("file_then_env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "horizon.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
http_addr = "127.0.0.1:7000"
store = "mongo"
mongo_db = "docs"
request_timeout = "3s"
max_batch = 10
`), 0o600))

		cfg, err := loadConfig(envMap(map[string]string{
			"HORIZON_CONFIG":    path,
			"HORIZON_MAX_BATCH": "20",
		}))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7000", cfg.HTTPAddr)
		assert.Equal(t, storeMongo, cfg.Store)
		assert.Equal(t, "docs", cfg.MongoDB)
		assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 20, cfg.MaxBatch)
	})

	invalid := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown_store", env: map[string]string{"HORIZON_STORE": "postgres"}},
		{name: "unknown_auth_mode", env: map[string]string{"HORIZON_AUTH_MODE": "everyone"}},
		{name: "unknown_log_format", env: map[string]string{"HORIZON_LOG_FORMAT": "xml"}},
		{name: "bad_duration", env: map[string]string{"HORIZON_REQUEST_TIMEOUT": "soon"}},
		{name: "negative_duration", env: map[string]string{"HORIZON_SHUTDOWN_TIMEOUT": "-1s"}},
		{name: "zero_batch", env: map[string]string{"HORIZON_MAX_BATCH": "0"}},
		{name: "missing_file", env: map[string]string{"HORIZON_CONFIG": "/nonexistent/horizon.toml"}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(envMap(tc.env))
			require.Error(t, err)
		})
	}

	t.Run("bad_file_duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "horizon.toml")
		require.NoError(t, os.WriteFile(path, []byte(`shutdown_timeout = "later"`), 0o600))
		_, err := loadConfig(envMap(map[string]string{"HORIZON_CONFIG": path}))
		require.ErrorContains(t, err, "shutdown_timeout")
	})
}

func envMap(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}
