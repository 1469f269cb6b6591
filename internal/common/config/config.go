// Package config provides configuration management for OpenGate.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the OpenGate server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Loops    LoopsConfig    `mapstructure:"loops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"writeTimeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // in seconds
	// SetupToken gates POST /api/agents/register. Registration is refused
	// while it is empty.
	SetupToken string `mapstructure:"setupToken"`
}

// DatabaseConfig holds store configuration. SQLite is the default engine;
// a Postgres DSN switches the store to pgx for deployments that need it.
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite or postgres
	Path          string `mapstructure:"path"`   // sqlite file path
	DSN           string `mapstructure:"dsn"`    // postgres connection string
	BusyTimeoutMS int    `mapstructure:"busyTimeoutMs"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// Buffer is the per-subscriber broadcast capacity. Values below 1024
	// are raised to 1024.
	Buffer int `mapstructure:"buffer"`
	// NATSURL, when set, mirrors every event to NATS for out-of-process
	// consumers. Empty disables the mirror.
	NATSURL           string `mapstructure:"natsUrl"`
	NATSSubjectPrefix string `mapstructure:"natsSubjectPrefix"`
}

// WebhooksConfig holds outbound webhook delivery configuration.
type WebhooksConfig struct {
	Workers        int `mapstructure:"workers"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
	MaxAttempts    int `mapstructure:"maxAttempts"`
	QueueSize      int `mapstructure:"queueSize"`
}

// LoopsConfig holds background loop timing configuration.
type LoopsConfig struct {
	ReaperGraceSeconds      int `mapstructure:"reaperGraceSeconds"`
	ReaperIntervalSeconds   int `mapstructure:"reaperIntervalSeconds"`
	PromoterIntervalSeconds int `mapstructure:"promoterIntervalSeconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry configuration. An empty endpoint
// disables tracing.
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SeedConfig points at an optional YAML seed file loaded at startup.
type SeedConfig struct {
	Path string `mapstructure:"path"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown budget as a time.Duration.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// ReaperGrace returns the startup grace before the first stale-reaper tick.
func (l *LoopsConfig) ReaperGrace() time.Duration {
	return time.Duration(l.ReaperGraceSeconds) * time.Second
}

// ReaperInterval returns the stale-reaper tick interval.
func (l *LoopsConfig) ReaperInterval() time.Duration {
	return time.Duration(l.ReaperIntervalSeconds) * time.Second
}

// PromoterInterval returns the scheduled-promoter tick interval.
func (l *LoopsConfig) PromoterInterval() time.Duration {
	return time.Duration(l.PromoterIntervalSeconds) * time.Second
}

// Timeout returns the per-request webhook deadline.
func (w *WebhooksConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("OPENGATE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.shutdownTimeout", 30)
	v.SetDefault("server.setupToken", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "opengate.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.busyTimeoutMs", 5000)

	// Event bus defaults - empty NATS URL means in-memory broadcast only
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.natsSubjectPrefix", "opengate.events")

	// Webhook delivery defaults
	v.SetDefault("webhooks.workers", 4)
	v.SetDefault("webhooks.timeoutSeconds", 10)
	v.SetDefault("webhooks.maxAttempts", 3)
	v.SetDefault("webhooks.queueSize", 256)

	// Background loop defaults
	v.SetDefault("loops.reaperGraceSeconds", 300)
	v.SetDefault("loops.reaperIntervalSeconds", 60)
	v.SetDefault("loops.promoterIntervalSeconds", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults - empty endpoint disables tracing
	v.SetDefault("tracing.otlpEndpoint", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Seed defaults
	v.SetDefault("seed.path", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix OPENGATE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory,
// ./config, or /etc/opengate/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("OPENGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.setupToken", "OPENGATE_SERVER_SETUP_TOKEN")
	_ = v.BindEnv("database.busyTimeoutMs", "OPENGATE_DATABASE_BUSY_TIMEOUT_MS")
	_ = v.BindEnv("events.natsUrl", "OPENGATE_EVENTS_NATS_URL")
	_ = v.BindEnv("tracing.otlpEndpoint", "OPENGATE_TRACING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/opengate/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are sane.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdownTimeout must be positive")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// The broadcast channel must absorb a burst of events without stalling
	// producers; anything under 1024 is raised rather than rejected.
	if cfg.Events.Buffer < 1024 {
		cfg.Events.Buffer = 1024
	}

	if cfg.Webhooks.Workers <= 0 {
		errs = append(errs, "webhooks.workers must be positive")
	}
	if cfg.Webhooks.TimeoutSeconds <= 0 {
		errs = append(errs, "webhooks.timeoutSeconds must be positive")
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		errs = append(errs, "webhooks.maxAttempts must be positive")
	}

	if cfg.Loops.ReaperIntervalSeconds <= 0 {
		errs = append(errs, "loops.reaperIntervalSeconds must be positive")
	}
	if cfg.Loops.PromoterIntervalSeconds <= 0 {
		errs = append(errs, "loops.promoterIntervalSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
