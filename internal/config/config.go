package config

import "time"

// Config represents the complete application configuration, layered as:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: user config file ($XDG_CONFIG_HOME/crmpulse/config.yaml or --config)
// Layer 3: CRMPULSE_* environment variables and flag overrides
type Config struct {
	Server  ServerConfig            `mapstructure:"server"`
	Store   StoreConfig             `mapstructure:"store"`
	Cache   CacheConfig             `mapstructure:"cache"`
	Retry   RetryConfig             `mapstructure:"retry"`
	Sources map[string]SourceConfig `mapstructure:"sources"`
	Logging LoggingConfig           `mapstructure:"logging"`
	Metrics MetricsConfig           `mapstructure:"metrics"`
	Health  HealthConfig            `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// CacheConfig controls where source results are cached.
type CacheConfig struct {
	// Backend is one of memory, store, tiered.
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
	// MaxAge hides entries older than this from reads. Zero keeps entries
	// until an explicit refresh removes them.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// RetryConfig is the per-source attempt budget.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	// Persist stores gate state so active blocks survive restarts.
	Persist bool `mapstructure:"persist"`
}

// SourceConfig describes one remote analysis endpoint.
type SourceConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	URL            string            `mapstructure:"url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	RatePerSecond  float64           `mapstructure:"rate_per_second"`
	Burst          int               `mapstructure:"burst"`
	EmptyOnFailure bool              `mapstructure:"empty_on_failure"`
	PageSize       int               `mapstructure:"page_size"`
	MaxPages       int               `mapstructure:"max_pages"`
	Token          string            `mapstructure:"token"`
	Headers        map[string]string `mapstructure:"headers"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Environment is attached to every structured log event
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main
	// HTTP port proxies to it
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
