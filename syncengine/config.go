package syncengine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration for the engine and its daemon.
// YAML and JSON are both accepted, chosen by file extension. Durations are
// expressed as millisecond or second integers so both formats parse them.
type Config struct {
	// ListenAddr is the HTTP listen address for the daemon.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// DatabasePath is the SQLite database location.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// BatchSize limits how many operations one drain pulls per user.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// RetentionDays is the window used by scheduled purges.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// AutoDrainIntervalSec enables the background drain ticker when positive.
	AutoDrainIntervalSec int `json:"auto_drain_interval_sec" yaml:"auto_drain_interval_sec"`

	// Retry bounds internal retries of transient commit races.
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// RateLimitPerSecond caps inbound requests per client on the HTTP
	// surface (0 disables limiting).
	RateLimitPerSecond float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
}

// RetryConfig is the file representation of a RetryPolicy.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" yaml:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" yaml:"multiplier"`
}

// Policy converts the file representation to a RetryPolicy.
func (rc RetryConfig) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: time.Duration(rc.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(rc.MaxDelayMs) * time.Millisecond,
		Multiplier:   rc.Multiplier,
	}
}

// AutoDrainInterval returns the configured ticker interval, zero when
// auto-drain is disabled.
func (c *Config) AutoDrainInterval() time.Duration {
	return time.Duration(c.AutoDrainIntervalSec) * time.Second
}

// DefaultEngineConfig returns production-ready defaults.
func DefaultEngineConfig() Config {
	def := DefaultRetryPolicy()
	return Config{
		ListenAddr:    ":8080",
		DatabasePath:  "syncengine.db",
		BatchSize:     100,
		RetentionDays: 7,
		Retry: RetryConfig{
			MaxAttempts:    def.MaxAttempts,
			InitialDelayMs: int(def.InitialDelay / time.Millisecond),
			MaxDelayMs:     int(def.MaxDelay / time.Millisecond),
			Multiplier:     def.Multiplier,
		},
	}
}

// LoadConfig reads a YAML or JSON configuration file and applies defaults to
// unset fields.
func LoadConfig(path string) (Config, error) {
	config := DefaultEngineConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		err = yaml.Unmarshal(data, &config)
	case strings.HasSuffix(path, ".json"):
		err = json.Unmarshal(data, &config)
	default:
		// Try YAML first; it is a superset of the JSON we accept.
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()
	return config, config.Validate()
}

func (c *Config) applyDefaults() {
	defaults := DefaultEngineConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = defaults.Retry
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must not be negative")
	}
	return nil
}
