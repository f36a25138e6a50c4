// Package config loads service configuration in three layers: compiled
// defaults, then an optional TOML file, then ANSER_* environment variables.
// Later layers win.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	Env      string `toml:"env"`       // development, staging, production
	LogLevel string `toml:"log_level"` // debug, info, warn, error

	Server    ServerConfig    `toml:"server"`
	Backend   BackendConfig   `toml:"backend"`
	Cache     CacheConfig     `toml:"cache"`
	Search    SearchConfig    `toml:"search"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Tracing   TracingConfig   `toml:"tracing"`
	Limits    LimitsConfig    `toml:"limits"`
	Providers ProvidersConfig `toml:"providers"`
}

// ServerConfig covers the HTTP edge.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// BackendConfig points at the model backend.
type BackendConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

// CacheConfig selects the response cache. An empty URL selects the in-memory
// cache; "noop" disables caching.
type CacheConfig struct {
	URL        string `toml:"url"`
	MaxEntries int    `toml:"max_entries"`
}

// SearchConfig holds the external search provider settings, including the
// accounted cost per primary search and per enhancement fetch.
type SearchConfig struct {
	BraveAPIKey     string  `toml:"brave_api_key"`
	PrimaryCost     float64 `toml:"primary_cost"`
	EnhancementCost float64 `toml:"enhancement_cost"`
}

// AnalyticsConfig selects the usage event sink.
type AnalyticsConfig struct {
	Driver string `toml:"driver"` // memory, sqlite, mysql
	DSN    string `toml:"dsn"`    // sqlite path or mysql DSN
}

// TracingConfig configures the OTLP trace exporter. An empty endpoint
// disables tracing.
type TracingConfig struct {
	Endpoint string `toml:"endpoint"`
}

// LimitsConfig bounds request intake and scheduling.
type LimitsConfig struct {
	MaxQueryLength      int     `toml:"max_query_length"`
	DefaultBudget       float64 `toml:"default_budget"`
	MaxConcurrentAgents int     `toml:"max_concurrent_agents"`
}

// ProvidersConfig carries API keys for remote model generators.
type ProvidersConfig struct {
	AnthropicKey string `toml:"anthropic_key"`
	OpenAIKey    string `toml:"openai_key"`
	GoogleKey    string `toml:"google_key"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		Backend: BackendConfig{
			Host:         "http://localhost:11434",
			DefaultModel: "llama2:7b-chat",
		},
		Cache: CacheConfig{MaxEntries: 4096},
		Search: SearchConfig{
			PrimaryCost:     0.42,
			EnhancementCost: 0.08,
		},
		Analytics: AnalyticsConfig{Driver: "memory"},
		Limits: LimitsConfig{
			MaxQueryLength:      10000,
			DefaultBudget:       1.0,
			MaxConcurrentAgents: 4,
		},
	}
}

// Load reads config: defaults, then the TOML file at path when it exists,
// then environment variables. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "anser.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("ANSER_ENV", &cfg.Env)
	setString("ANSER_LOG_LEVEL", &cfg.LogLevel)
	setString("ANSER_ADDR", &cfg.Server.Addr)
	setString("ANSER_OLLAMA_HOST", &cfg.Backend.Host)
	setString("ANSER_DEFAULT_MODEL", &cfg.Backend.DefaultModel)
	setString("ANSER_CACHE_URL", &cfg.Cache.URL)
	setString("ANSER_BRAVE_API_KEY", &cfg.Search.BraveAPIKey)
	setString("ANSER_ANALYTICS_DRIVER", &cfg.Analytics.Driver)
	setString("ANSER_ANALYTICS_DSN", &cfg.Analytics.DSN)
	setString("ANSER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("ANSER_ANTHROPIC_KEY", &cfg.Providers.AnthropicKey)
	setString("ANSER_OPENAI_KEY", &cfg.Providers.OpenAIKey)
	setString("ANSER_GOOGLE_KEY", &cfg.Providers.GoogleKey)

	if v := os.Getenv("ANSER_PRIMARY_SEARCH_COST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.PrimaryCost = f
		}
	}
	if v := os.Getenv("ANSER_ENHANCEMENT_COST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.EnhancementCost = f
		}
	}
}

var validEnvs = map[string]bool{"development": true, "staging": true, "production": true}

var validDrivers = map[string]bool{"memory": true, "sqlite": true, "mysql": true}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if !validEnvs[c.Env] {
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Backend.Host == "" {
		return fmt.Errorf("config: backend host is required")
	}
	if c.Search.PrimaryCost < 0 || c.Search.EnhancementCost < 0 {
		return fmt.Errorf("config: search costs must be non-negative")
	}
	if !validDrivers[c.Analytics.Driver] {
		return fmt.Errorf("config: unknown analytics driver %q", c.Analytics.Driver)
	}
	if c.Analytics.Driver != "memory" && c.Analytics.DSN == "" {
		return fmt.Errorf("config: analytics driver %q requires a dsn", c.Analytics.Driver)
	}
	if c.Limits.MaxQueryLength <= 0 {
		return fmt.Errorf("config: max_query_length must be positive")
	}
	if c.Limits.MaxConcurrentAgents < 0 {
		return fmt.Errorf("config: max_concurrent_agents must not be negative")
	}
	return nil
}

// Production reports whether the service runs with production hardening
// (no internal detail in user-facing errors).
func (c Config) Production() bool { return c.Env == "production" }

// SlogLevel maps the configured log level to its slog value.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
