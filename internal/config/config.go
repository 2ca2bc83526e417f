// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Intakes       IntakesConfig       `yaml:"intakes"`
	Store         StoreConfig         `yaml:"store"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Submission    SubmissionConfig    `yaml:"submission"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Handoff       HandoffConfig       `yaml:"handoff"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// AuthConfig describes API authentication settings. Keys are bearer tokens
// presented by agent and operator clients; an empty list disables auth for
// local development.
type AuthConfig struct {
	APIKeysEnv string `yaml:"api_keys_env"`
}

// IntakesConfig describes where to find intake definition YAML files.
type IntakesConfig struct {
	Directories []string `yaml:"directories"`
}

// StoreConfig describes submission persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "memory" or "postgres"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IdempotencyConfig describes the creation dedup store.
type IdempotencyConfig struct {
	Driver     string        `yaml:"driver"` // "memory" or "redis"
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// SubmissionConfig describes lifecycle settings.
type SubmissionConfig struct {
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

// DeliveryConfig describes webhook delivery retry settings.
type DeliveryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// UploadsConfig describes the upload backend.
type UploadsConfig struct {
	Backend string `yaml:"backend"` // "memory"
	BaseURL string `yaml:"base_url"`
}

// HandoffConfig describes signed handoff link settings.
type HandoffConfig struct {
	SecretEnv string        `yaml:"secret_env"`
	LinkTTL   time.Duration `yaml:"link_ttl"`
	BaseURL   string        `yaml:"base_url"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
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
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Idempotency-Key"},
				MaxAge:         86400,
			},
		},
		Intakes: IntakesConfig{
			Directories: []string{"/intakes"},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "FORMBRIDGE_STORE_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Driver:     "memory",
			AddrEnv:    "FORMBRIDGE_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Submission: SubmissionConfig{
			ExpirySweepInterval: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:       3,
			InitialDelay:      100 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxDelay:          30 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Uploads: UploadsConfig{
			Backend: "memory",
		},
		Handoff: HandoffConfig{
			SecretEnv: "FORMBRIDGE_HANDOFF_SECRET",
			LinkTTL:   24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
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
	if len(c.Intakes.Directories) == 0 {
		errs = append(errs, "intakes.directories must name at least one directory")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	switch c.Idempotency.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("idempotency.driver %q is not supported (memory, redis)", c.Idempotency.Driver))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, "delivery.max_attempts must be at least 1")
	}
	if c.Delivery.BackoffMultiplier < 1 {
		errs = append(errs, "delivery.backoff_multiplier must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FORMBRIDGE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMBRIDGE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORMBRIDGE_INTAKES_DIRECTORIES"); v != "" {
		cfg.Intakes.Directories = strings.Split(v, ",")
	}
	if v := os.Getenv("FORMBRIDGE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FORMBRIDGE_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Idempotency.Driver = v
	}
	if v := os.Getenv("FORMBRIDGE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
