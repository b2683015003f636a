package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/wire"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Sync.FanoutPageSize)
	assert.Equal(t, 15, cfg.Sync.SuffixLength)
	assert.Equal(t, wire.Latest, cfg.Sync.ProtoVersion)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nats:
  urls: ["nats://nats-0:4222", "nats://nats-1:4222"]
sync:
  fanout_page_size: 250
  drain_interval: 500ms
workers:
  count: 8
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://nats-0:4222", "nats://nats-1:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 250, cfg.Sync.FanoutPageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.DrainInterval)
	assert.Equal(t, 8, cfg.Workers.Count)
	// Untouched sections keep defaults.
	assert.Equal(t, 15, cfg.Sync.SuffixLength)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/edgesync.yaml")
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EDGESYNC_NATS_URLS", "nats://env-host:4222")
	t.Setenv("EDGESYNC_LOG_LEVEL", "debug")
	t.Setenv("EDGESYNC_WORKERS", "16")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://env-host:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Workers.Count)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }},
		{"zero page size", func(c *Config) { c.Sync.FanoutPageSize = 0 }},
		{"zero suffix length", func(c *Config) { c.Sync.SuffixLength = 0 }},
		{"unknown proto version", func(c *Config) { c.Sync.ProtoVersion = 42 }},
		{"zero drain batch", func(c *Config) { c.Sync.DrainBatch = 0 }},
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
