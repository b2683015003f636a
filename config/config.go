// Package config loads and validates the sync service configuration. A YAML
// file provides the base layer, environment variables override connection
// settings for containerized deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/edgesync/wire"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "EDGESYNC"

// Config is the complete service configuration.
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Sync    SyncConfig    `yaml:"sync"`
	Limits  LimitsConfig  `yaml:"limits"`
	Workers WorkersConfig `yaml:"workers"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NATSConfig defines the NATS connection settings. JetStream is required for
// the durable event log and the entity buckets.
type NATSConfig struct {
	URLs          []string      `yaml:"urls"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	Token         string        `yaml:"token,omitempty"`
	Replicas      int           `yaml:"replicas,omitempty"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	// FanoutPageSize is how many edges one fan-out page loads at a time.
	FanoutPageSize int `yaml:"fanout_page_size"`
	// SuffixLength is the length of the random suffix appended on rename.
	SuffixLength int `yaml:"suffix_length"`
	// ProtoVersion is the wire shape spoken to edges that have not
	// negotiated one.
	ProtoVersion wire.ProtoVersion `yaml:"proto_version"`
	// DrainBatch is how many event log entries one downlink drain pass
	// converts per edge.
	DrainBatch int `yaml:"drain_batch"`
	// DrainInterval is how often idle edges are checked for pending entries.
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// LimitsConfig caps per-tenant entity counts. Zero means unlimited.
type LimitsConfig struct {
	MaxRuleChains       int `yaml:"max_rule_chains"`
	MaxCalculatedFields int `yaml:"max_calculated_fields"`
	MaxEntityViews      int `yaml:"max_entity_views"`
}

// WorkersConfig sizes the uplink worker pool.
type WorkersConfig struct {
	Count       int           `yaml:"count"`
	QueueSize   int           `yaml:"queue_size"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Replicas:      1,
		},
		Sync: SyncConfig{
			FanoutPageSize: 1000,
			SuffixLength:   15,
			ProtoVersion:   wire.Latest,
			DrainBatch:     100,
			DrainInterval:  time.Second,
		},
		Workers: WorkersConfig{
			Count:       4,
			QueueSize:   256,
			StopTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads configuration from path on top of the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if c.Sync.FanoutPageSize <= 0 {
		return errors.New("sync.fanout_page_size must be positive")
	}
	if c.Sync.SuffixLength <= 0 {
		return errors.New("sync.suffix_length must be positive")
	}
	if !c.Sync.ProtoVersion.Valid() {
		return fmt.Errorf("sync.proto_version %d is not supported", c.Sync.ProtoVersion)
	}
	if c.Sync.DrainBatch <= 0 {
		return errors.New("sync.drain_batch must be positive")
	}
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be positive")
	}
	if c.Workers.QueueSize <= 0 {
		return errors.New("workers.queue_size must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Workers.Count = n
		}
	}
}
