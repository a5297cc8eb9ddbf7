package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.GlobalTimeout())
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay())
	assert.Equal(t, 3*time.Second, cfg.MaxRetryDelay())
	assert.Equal(t, 168*time.Hour, cfg.ReprofileAfter())
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 6*time.Hour, cfg.MinimumCacheTTL())
	assert.Equal(t, 1000, cfg.ProfileCapacity)
	assert.Equal(t, 100, cfg.MinContentLength)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `{
		"global_timeout_ms": 30000,
		"max_attempts": 3,
		"strategies": ["static-html", "greenhouse-api"],
		"concurrency": 5,
		"log_level": "debug"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.GlobalTimeout())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, []string{"static-html", "greenhouse-api"}, cfg.Strategies)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 2000, cfg.BatchDelayMs, "default kept")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"concurrency": 5, "db_path": "file.db"}`)
	t.Setenv("WEAVER_CONCURRENCY", "7")
	t.Setenv("WEAVER_DB_PATH", "env.db")
	t.Setenv("WEAVER_STRATEGIES", "static-html, lever-api ,")
	t.Setenv("WEAVER_DISABLE_HEADLESS", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Concurrency)
	assert.Equal(t, "env.db", cfg.DBPath)
	assert.Equal(t, []string{"static-html", "lever-api"}, cfg.Strategies)
	assert.True(t, cfg.DisableHeadless)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorContains(t, err, "failed to open config file")
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `{"concurrency":`))
		assert.ErrorContains(t, err, "failed to parse config JSON")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `{"concurrancy": 2}`))
		assert.Error(t, err)
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("WEAVER_MAX_ATTEMPTS", "many")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "WEAVER_MAX_ATTEMPTS")
	})

	for name, body := range map[string]string{
		"timeout":   `{"global_timeout_ms": 10}`,
		"attempts":  `{"max_attempts": -1}`,
		"rate":      `{"fast_track_min_rate": 150}`,
		"log level": `{"log_level": "chatty"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}
