package syncengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
listen_addr: ":9090"
database_path: "/tmp/sync.db"
batch_size: 25
retention_days: 14
auto_drain_interval_sec: 30
retry:
  max_attempts: 5
  initial_delay_ms: 10
  max_delay_ms: 500
  multiplier: 1.5
rate_limit_per_second: 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("batch_size = %d", cfg.BatchSize)
	}
	if cfg.RetentionDays != 14 {
		t.Errorf("retention_days = %d", cfg.RetentionDays)
	}
	if cfg.AutoDrainInterval() != 30*time.Second {
		t.Errorf("auto_drain_interval = %v", cfg.AutoDrainInterval())
	}

	policy := cfg.Retry.Policy()
	if policy.MaxAttempts != 5 {
		t.Errorf("retry.max_attempts = %d", policy.MaxAttempts)
	}
	if policy.InitialDelay != 10*time.Millisecond {
		t.Errorf("retry.initial_delay = %v", policy.InitialDelay)
	}
	if policy.MaxDelay != 500*time.Millisecond {
		t.Errorf("retry.max_delay = %v", policy.MaxDelay)
	}
	if cfg.RateLimitPerSecond != 10 {
		t.Errorf("rate_limit_per_second = %v", cfg.RateLimitPerSecond)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "listen_addr": ":7070",
  "batch_size": 10
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("batch_size = %d", cfg.BatchSize)
	}
	// Unset fields pick up defaults.
	if cfg.DatabasePath != "syncengine.db" {
		t.Errorf("database_path = %q, want default", cfg.DatabasePath)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry.max_attempts = %d, want default 3", cfg.Retry.MaxAttempts)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "bad.yaml", "batch_size: [not a number")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }, true},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, true},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, true},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }, true},
		{"negative rate limit", func(c *Config) { c.RateLimitPerSecond = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
