package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Chronos Agent - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Recorder       RecorderConfig       `yaml:"recorder"`
	RingBuffer     RingBufferConfig     `yaml:"ring_buffer"`
	Redaction      RedactionConfig      `yaml:"redaction"`
	MemoryPressure MemoryPressureConfig `yaml:"memory_pressure"`
	Sandbox        SandboxConfig        `yaml:"sandbox"`
	IPC            IPCConfig            `yaml:"ipc"`
	Coordinator    CoordinatorConfig    `yaml:"coordinator"`
	Recording      RecordingConfig      `yaml:"recording"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// RecorderConfig controls the adaptive recorder's event-rate degradation
// ladder.
type RecorderConfig struct {
	ReducedThresholdPerSec int `yaml:"reduced_threshold_per_sec"`
	MinimalThresholdPerSec int `yaml:"minimal_threshold_per_sec"`
	PausedThresholdPerSec  int `yaml:"paused_threshold_per_sec"`
}

// RingBufferConfig sizes the in-memory event buffer.
type RingBufferConfig struct {
	CapacityEvents int `yaml:"capacity_events"`
}

// RedactionConfig lists additional field-name patterns to redact beyond the
// built-in sensitive-field heuristics.
type RedactionConfig struct {
	ExtraFieldPatterns []string `yaml:"extra_field_patterns"`
}

// MemoryPressureConfig controls when the recorder pauses under host memory
// pressure.
type MemoryPressureConfig struct {
	PauseBelowFraction  float64 `yaml:"pause_below_fraction"`
	ResumeAboveFraction float64 `yaml:"resume_above_fraction"`
	PollSchedule        string  `yaml:"poll_schedule"`
}

// SandboxConfig controls the speculative-replay execution guard, per
// illegal transitions are rejected.
type SandboxConfig struct {
	PermitDatabaseReads   bool `yaml:"permit_database_reads"`
	PermitFileSystemReads bool `yaml:"permit_file_system_reads"`
}

// IPCConfig controls the secure transport to the debugger UI.
type IPCConfig struct {
	SocketPath         string `yaml:"socket_path"`
	RateLimitMax       int    `yaml:"rate_limit_max"`
	RateLimitWindowSec int    `yaml:"rate_limit_window_sec"`
}

// CoordinatorConfig controls multi-process synchronization.
type CoordinatorConfig struct {
	SynchronizationSlack int `yaml:"synchronization_slack"`
}

// RecordingConfig fills the static fields of a recording header, per
// fills the static fields of a recording header.
type RecordingConfig struct {
	AppIdentifier string `yaml:"app_identifier"`
	ProcessName   string `yaml:"process_name"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CHRONOS_CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := getEnvInt("CHRONOS_RECORDER_REDUCED_THRESHOLD", 0); v > 0 {
		c.Recorder.ReducedThresholdPerSec = v
	}
	if v := getEnvInt("CHRONOS_RECORDER_MINIMAL_THRESHOLD", 0); v > 0 {
		c.Recorder.MinimalThresholdPerSec = v
	}
	if v := getEnvInt("CHRONOS_RECORDER_PAUSED_THRESHOLD", 0); v > 0 {
		c.Recorder.PausedThresholdPerSec = v
	}

	if v := getEnvInt("CHRONOS_RING_BUFFER_CAPACITY", 0); v > 0 {
		c.RingBuffer.CapacityEvents = v
	}

	if extra := getEnv("CHRONOS_REDACTION_EXTRA_FIELDS", ""); extra != "" {
		c.Redaction.ExtraFieldPatterns = splitCSV(extra)
	}

	if v := getEnvFloat("CHRONOS_MEMORY_PAUSE_BELOW", 0); v > 0 {
		c.MemoryPressure.PauseBelowFraction = v
	}
	if v := getEnvFloat("CHRONOS_MEMORY_RESUME_ABOVE", 0); v > 0 {
		c.MemoryPressure.ResumeAboveFraction = v
	}
	c.MemoryPressure.PollSchedule = getEnv("CHRONOS_MEMORY_POLL_SCHEDULE", c.MemoryPressure.PollSchedule)

	c.Sandbox.PermitDatabaseReads = getEnvBool("CHRONOS_SANDBOX_PERMIT_DB_READS", c.Sandbox.PermitDatabaseReads)
	c.Sandbox.PermitFileSystemReads = getEnvBool("CHRONOS_SANDBOX_PERMIT_FS_READS", c.Sandbox.PermitFileSystemReads)

	c.IPC.SocketPath = getEnv("CHRONOS_IPC_SOCKET_PATH", c.IPC.SocketPath)
	if v := getEnvInt("CHRONOS_IPC_RATE_LIMIT_MAX", 0); v > 0 {
		c.IPC.RateLimitMax = v
	}
	if v := getEnvInt("CHRONOS_IPC_RATE_LIMIT_WINDOW_SEC", 0); v > 0 {
		c.IPC.RateLimitWindowSec = v
	}

	if v := getEnvInt("CHRONOS_COORDINATOR_SYNC_SLACK", 0); v > 0 {
		c.Coordinator.SynchronizationSlack = v
	}

	c.Recording.AppIdentifier = getEnv("CHRONOS_APP_IDENTIFIER", c.Recording.AppIdentifier)
	c.Recording.ProcessName = getEnv("CHRONOS_PROCESS_NAME", c.Recording.ProcessName)

	c.Metrics.Enabled = getEnvBool("CHRONOS_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv("CHRONOS_METRICS_ADDR", c.Metrics.Addr)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields, per
// the concrete thresholds the recorder, IPC server, coordinator, and memory monitor use.
func (c *Config) applyDefaults() {
	if c.Recorder.ReducedThresholdPerSec == 0 {
		c.Recorder.ReducedThresholdPerSec = 200
	}
	if c.Recorder.MinimalThresholdPerSec == 0 {
		c.Recorder.MinimalThresholdPerSec = 500
	}
	if c.Recorder.PausedThresholdPerSec == 0 {
		c.Recorder.PausedThresholdPerSec = 1000
	}
	if c.RingBuffer.CapacityEvents == 0 {
		c.RingBuffer.CapacityEvents = 100_000
	}
	if c.MemoryPressure.PauseBelowFraction == 0 {
		c.MemoryPressure.PauseBelowFraction = 0.15
	}
	if c.MemoryPressure.ResumeAboveFraction == 0 {
		c.MemoryPressure.ResumeAboveFraction = 0.25
	}
	if c.MemoryPressure.PollSchedule == "" {
		c.MemoryPressure.PollSchedule = "@every 5s"
	}
	if c.IPC.SocketPath == "" {
		c.IPC.SocketPath = "/tmp/chronos-agent.sock"
	}
	if c.IPC.RateLimitMax == 0 {
		c.IPC.RateLimitMax = 1000
	}
	if c.IPC.RateLimitWindowSec == 0 {
		c.IPC.RateLimitWindowSec = 60
	}
	if c.Coordinator.SynchronizationSlack == 0 {
		c.Coordinator.SynchronizationSlack = 100
	}
	if c.Recording.AppIdentifier == "" {
		c.Recording.AppIdentifier = "chronos-host"
	}
	if c.Recording.ProcessName == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Recording.ProcessName = hostname
		} else {
			c.Recording.ProcessName = "unknown"
		}
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
