package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypnl/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "https://data-api.polymarket.com", cfg.Feed.DataAPIBase)
	assert.Equal(t, 500, cfg.Feed.MaxPageSize)
	assert.Equal(t, "offset", cfg.Collector.Mode)
	assert.Equal(t, 500, cfg.Collector.PageSize)
	assert.Equal(t, 25, cfg.Collector.EmptyWindowLimit)
	assert.Equal(t, 400, cfg.Collector.MaxPages)
	assert.Equal(t, 4, cfg.Collector.FanOut)
	assert.Zero(t, cfg.Collector.MaxEvents)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 10*time.Second, cfg.FeedTimeout())
	assert.Equal(t, "polypnl.db", cfg.Storage.DSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, `
feed:
  rate_per_sec: 5
collector:
  mode: cursor
  page_size: 200
  max_events: 10000
cache:
  backend: none
storage:
  dsn: ":memory:"
trace:
  enabled: true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Feed.RatePerSec)
	assert.Equal(t, "cursor", cfg.Collector.Mode)
	assert.Equal(t, 200, cfg.Collector.PageSize)
	assert.Equal(t, 10000, cfg.Collector.MaxEvents)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.True(t, cfg.Trace.Enabled)
	// no especificado → default
	assert.Equal(t, 25, cfg.Collector.EmptyWindowLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POLYPNL_DATA_API", "http://localhost:9999")
	t.Setenv("POLYPNL_METRICS_ADDR", ":9100")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	path := writeFile(t, "log:\n  level: warn\ncache:\n  backend: redis\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://localhost:9999", cfg.Feed.DataAPIBase)
	assert.Equal(t, ":9100", cfg.Metrics.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", "collector:\n  mode: keyset\n"},
		{"unknown cache backend", "cache:\n  backend: memcached\n"},
		{"redis without addr", "cache:\n  backend: redis\n"},
		{"page size over feed cap", "collector:\n  page_size: 1000\n"},
		{"bad yaml", "collector: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REDIS_ADDR", "")
			_, err := config.Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := config.LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "offset", cfg.Collector.Mode)
}
