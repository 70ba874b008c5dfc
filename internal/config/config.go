package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Capture    CaptureConfig    `yaml:"capture"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig contains the on-disk layout for persisted state.
type StorageConfig struct {
	Path                string `yaml:"path"` // directory holding network-*.json, persistent_state.json, backups
	BackupRetentionDays int    `yaml:"backup_retention_days"`
}

// BackupRetention returns how long backup files are kept before the nightly
// sweep deletes them. Defaults to 7 days.
func (s *StorageConfig) BackupRetention() time.Duration {
	if s.BackupRetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(s.BackupRetentionDays) * 24 * time.Hour
}

// CaptureConfig contains live-capture handle settings for every adapter.
type CaptureConfig struct {
	SnapLen      int `yaml:"snap_len"`       // default: 200 bytes
	BufferSizeMB int `yaml:"buffer_size_mb"` // default: 8 MiB
	TimeoutMs    int `yaml:"timeout_ms"`     // default: 100ms
}

// SnapshotLength returns the per-packet capture length, or the 200-byte default.
func (c *CaptureConfig) SnapshotLength() int32 {
	if c.SnapLen <= 0 {
		return 200
	}
	return int32(c.SnapLen)
}

// BufferSizeBytes returns the kernel capture buffer size, or the 8 MiB default.
func (c *CaptureConfig) BufferSizeBytes() int32 {
	if c.BufferSizeMB <= 0 {
		return 8 * 1024 * 1024
	}
	return int32(c.BufferSizeMB) * 1024 * 1024
}

// ReadTimeout returns the per-call capture read timeout, or the 100ms default.
func (c *CaptureConfig) ReadTimeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// MonitoringConfig contains the timing knobs for discovery, flush, and dedup.
type MonitoringConfig struct {
	DiscoveryIntervalStr   string `yaml:"discovery_interval"`    // default: 5s
	FlushIntervalStr       string `yaml:"flush_interval"`        // default: 8s
	DedupTTLStr            string `yaml:"dedup_ttl"`             // default: 5s
	DedupSweepIntervalStr  string `yaml:"dedup_sweep_interval"`  // default: 30s
	AdapterOpenBackoffStr  string `yaml:"adapter_open_backoff"`  // default: 5s
	ConsolidationThreshold int    `yaml:"consolidation_threshold"` // default: 100 sessions/day
}

// DiscoveryInterval parses the discovery-loop period.
// Returns default of 5s if not configured, error if invalid or non-positive.
func (m *MonitoringConfig) DiscoveryInterval() (time.Duration, error) {
	return parseDurationOrDefault(m.DiscoveryIntervalStr, 5*time.Second, "monitoring.discovery_interval")
}

// FlushInterval parses the per-adapter session-flush period.
// Returns default of 8s if not configured, error if invalid or non-positive.
func (m *MonitoringConfig) FlushInterval() (time.Duration, error) {
	return parseDurationOrDefault(m.FlushIntervalStr, 8*time.Second, "monitoring.flush_interval")
}

// DedupTTL parses the deduper signature expiry window.
// Returns default of 5s if not configured, error if invalid or non-positive.
func (m *MonitoringConfig) DedupTTL() (time.Duration, error) {
	return parseDurationOrDefault(m.DedupTTLStr, 5*time.Second, "monitoring.dedup_ttl")
}

// DedupSweepInterval parses the deduper eviction-sweep period.
// Returns default of 30s if not configured, error if invalid or non-positive.
func (m *MonitoringConfig) DedupSweepInterval() (time.Duration, error) {
	return parseDurationOrDefault(m.DedupSweepIntervalStr, 30*time.Second, "monitoring.dedup_sweep_interval")
}

// AdapterOpenBackoff parses the supervisor's retry backoff after a hard
// capture-open failure. Returns default of 5s if not configured.
func (m *MonitoringConfig) AdapterOpenBackoff() (time.Duration, error) {
	return parseDurationOrDefault(m.AdapterOpenBackoffStr, 5*time.Second, "monitoring.adapter_open_backoff")
}

// ConsolidationCeiling returns the per-day session count above which the
// day-store consolidates into 30-minute buckets. Defaults to 100.
func (m *MonitoringConfig) ConsolidationCeiling() int {
	if m.ConsolidationThreshold <= 0 {
		return 100
	}
	return m.ConsolidationThreshold
}

func parseDurationOrDefault(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", field, s, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", field, duration)
	}
	return duration, nil
}

// HealthConfig contains the liveness/readiness HTTP endpoint settings.
type HealthConfig struct {
	Address         string `yaml:"address"`          // default: ":9100"
	IdleDegradedStr string `yaml:"idle_degraded"`     // default: 5m
}

// ListenAddress returns the address the health server binds to.
func (h *HealthConfig) ListenAddress() string {
	if h.Address == "" {
		return ":9100"
	}
	return h.Address
}

// IdleDegraded returns how long an adapter may go without a packet while
// marked active before the health report calls it degraded. Default 5m.
func (h *HealthConfig) IdleDegraded() (time.Duration, error) {
	return parseDurationOrDefault(h.IdleDegradedStr, 5*time.Minute, "health.idle_degraded")
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json, console (default: TTY-detected)
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if _, err := c.Monitoring.DiscoveryInterval(); err != nil {
		return err
	}
	if _, err := c.Monitoring.FlushInterval(); err != nil {
		return err
	}
	if _, err := c.Monitoring.DedupTTL(); err != nil {
		return err
	}
	if _, err := c.Monitoring.DedupSweepInterval(); err != nil {
		return err
	}
	if _, err := c.Monitoring.AdapterOpenBackoff(); err != nil {
		return err
	}
	if _, err := c.Health.IdleDegraded(); err != nil {
		return err
	}

	if c.Capture.SnapLen < 0 {
		return fmt.Errorf("capture.snap_len must not be negative, got %d", c.Capture.SnapLen)
	}
	if c.Capture.BufferSizeMB < 0 {
		return fmt.Errorf("capture.buffer_size_mb must not be negative, got %d", c.Capture.BufferSizeMB)
	}
	if c.Capture.TimeoutMs < 0 {
		return fmt.Errorf("capture.timeout_ms must not be negative, got %d", c.Capture.TimeoutMs)
	}

	return nil
}
