// Package config provides centralized configuration management for crmpulse.
// Values are layered by viper: built-in defaults, then the user config file,
// then CRMPULSE_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is used for XDG directories and the database file name.
	AppName = "crmpulse"
	// EnvPrefix is the environment variable prefix (CRMPULSE_SERVER_PORT).
	EnvPrefix = "CRMPULSE"
)

// Built-in source names.
const (
	SourceChurn             = "churn"
	SourceBrokerPerformance = "broker-performance"
	SourceRenewals          = "renewals"
	SourceClients           = "clients"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "development")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Cache defaults
	v.SetDefault("cache.backend", "tiered")
	v.SetDefault("cache.prefix", "crmpulse:cache:")
	v.SetDefault("cache.max_age", "0s")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.window", "60s")
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.persist", true)

	// Source defaults
	for _, name := range []string{SourceChurn, SourceBrokerPerformance, SourceRenewals, SourceClients} {
		key := "sources." + name + "."
		v.SetDefault(key+"enabled", true)
		v.SetDefault(key+"url", "http://localhost:8000/api/analysis/"+name)
		v.SetDefault(key+"timeout", "15s")
		v.SetDefault(key+"rate_per_second", 2.0)
		v.SetDefault(key+"burst", 1)
		v.SetDefault(key+"empty_on_failure", name == SourceBrokerPerformance || name == SourceRenewals)
		v.SetDefault(key+"token", "")
	}
	v.SetDefault("sources."+SourceClients+".page_size", 100)
	v.SetDefault("sources."+SourceClients+".max_pages", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// ConfigureEnv binds CRMPULSE_* environment variables on v. Dots and dashes
// in keys map to underscores: sources.broker-performance.url is read from
// CRMPULSE_SOURCES_BROKER_PERFORMANCE_URL.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes the merged settings of v into a Config and validates it.
// This function is safe to call multiple times (e.g., for config reload).
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	// AllSettings only consults the environment for keys viper knows about,
	// so resolve each key through Get to honour AutomaticEnv.
	merged := map[string]any{}
	for _, key := range v.AllKeys() {
		setNested(merged, strings.Split(key, "."), v.Get(key))
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks invariants the rest of the application relies on.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry.max_attempts must be positive")
	}
	if c.Retry.Window <= 0 {
		problems = append(problems, "retry.window must be positive")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		problems = append(problems, "retry delays must not be negative")
	}
	if c.Cache.MaxAge < 0 {
		problems = append(problems, "cache.max_age must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case "memory", "store", "tiered":
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q is not one of memory, store, tiered", c.Cache.Backend))
	}

	for _, name := range c.SourceNames() {
		src := c.Sources[name]
		if strings.TrimSpace(src.URL) == "" {
			problems = append(problems, fmt.Sprintf("sources.%s.url is required", name))
		}
		if src.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("sources.%s.timeout must not be negative", name))
		}
		if src.RatePerSecond < 0 {
			problems = append(problems, fmt.Sprintf("sources.%s.rate_per_second must not be negative", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SourceNames returns enabled source names in a stable order: built-ins
// first, then any others alphabetically.
func (c *Config) SourceNames() []string {
	if c == nil {
		return nil
	}
	builtin := []string{SourceChurn, SourceBrokerPerformance, SourceRenewals, SourceClients}
	seen := map[string]bool{}
	names := []string{}
	for _, name := range builtin {
		if src, ok := c.Sources[name]; ok && src.Enabled {
			names = append(names, name)
		}
		seen[name] = true
	}
	extra := []string{}
	for name, src := range c.Sources {
		if !seen[name] && src.Enabled {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

func setNested(root map[string]any, path []string, value any) {
	current := root
	for _, part := range path[:len(path)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
