// Package config loads and validates agent configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root agent configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Storage       StorageConfig       `yaml:"storage"`
	AutoSave      AutoSaveConfig      `yaml:"autosave"`
	Network       NetworkConfig       `yaml:"network"`
	Queue         QueueConfig         `yaml:"queue"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the localhost HTTP API settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings for the
// wizard UI origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig describes the travel-form backend endpoints.
type BackendConfig struct {
	SubmitURL string        `yaml:"submit_url"`
	HealthURL string        `yaml:"health_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StorageConfig describes the durable state store.
type StorageConfig struct {
	// Driver is one of: memory, file, redis, postgres.
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	QuotaBytes int64  `yaml:"quota_bytes"`
	// AddrEnv names the environment variable holding the Redis address.
	AddrEnv string `yaml:"addr_env"`
	// DSNEnv names the environment variable holding the PostgreSQL DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// AutoSaveConfig describes the auto-save scheduler timers.
type AutoSaveConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Interval time.Duration `yaml:"interval"`
}

// NetworkConfig describes the connectivity monitor.
type NetworkConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// QueueConfig describes submission queue retry behavior.
type QueueConfig struct {
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the linear backoff base; attempt n waits n*RetryDelay.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// CompletedTTL is how long a completed entry stays visible before it is
	// removed from the durable queue.
	CompletedTTL time.Duration `yaml:"completed_ttl"`
}

// ObservabilityConfig describes logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7788,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     "file",
			Dir:        "./state",
			QuotaBytes: 5 * 1024 * 1024,
			AddrEnv:    "FORMAGENT_REDIS_ADDR",
			DSNEnv:     "FORMAGENT_POSTGRES_DSN",
		},
		AutoSave: AutoSaveConfig{
			Debounce: 1 * time.Second,
			Interval: 30 * time.Second,
		},
		Network: NetworkConfig{
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			RetryDelay:   5 * time.Second,
			CompletedTTL: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.SubmitURL == "" {
		errs = append(errs, "backend.submit_url is required")
	}
	if c.Backend.HealthURL == "" {
		errs = append(errs, "backend.health_url is required")
	}
	switch c.Storage.Driver {
	case "memory", "file", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not one of memory, file, redis, postgres", c.Storage.Driver))
	}
	if c.Storage.Driver == "file" && c.Storage.Dir == "" {
		errs = append(errs, "storage.dir is required for the file driver")
	}
	if c.AutoSave.Debounce <= 0 {
		errs = append(errs, "autosave.debounce must be positive")
	}
	if c.AutoSave.Interval <= 0 {
		errs = append(errs, "autosave.interval must be positive")
	}
	if c.Network.ProbeTimeout <= 0 {
		errs = append(errs, "network.probe_timeout must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		errs = append(errs, "queue.max_retries must be at least 1")
	}
	if c.Queue.RetryDelay <= 0 {
		errs = append(errs, "queue.retry_delay must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FORMAGENT_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMAGENT_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORMAGENT_BACKEND_SUBMIT_URL"); v != "" {
		cfg.Backend.SubmitURL = v
	}
	if v := os.Getenv("FORMAGENT_BACKEND_HEALTH_URL"); v != "" {
		cfg.Backend.HealthURL = v
	}
	if v := os.Getenv("FORMAGENT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FORMAGENT_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("FORMAGENT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
