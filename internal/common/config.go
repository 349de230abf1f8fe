package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for tradesim, matching the configuration
// surface recognized by the core plus the ambient storage/logging
// sections every component needs at construction.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Provider    ProviderConfig  `toml:"provider"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Cache       CacheConfig     `toml:"cache"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Market      MarketConfig    `toml:"market"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds the minimal health-check HTTP listener configuration.
// The full API surface lives in a separate service; this process only
// exposes health, version, and refresh-status endpoints.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds connection settings for the warm store (SurrealDB) and
// the hot-cache durable backend (BadgerHold), plus a display address used on
// the startup banner.
type StorageConfig struct {
	SurrealURL       string `toml:"surreal_url"`
	SurrealNamespace string `toml:"surreal_namespace"`
	SurrealDatabase  string `toml:"surreal_database"`
	SurrealUsername  string `toml:"surreal_username"`
	SurrealPassword  string `toml:"surreal_password"`
	HotCachePath     string `toml:"hot_cache_path"`
	Address          string `toml:"-"`
}

// ProviderConfig holds outbound market-data provider configuration.
type ProviderConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	SecondaryName   string `toml:"secondary_name"`
	SecondaryAPIKey string `toml:"secondary_api_key"`
}

// Timeout returns the provider HTTP timeout as a Duration.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimitConfig holds the token-bucket budgets for the market-data provider.
type RateLimitConfig struct {
	PerMinute int `toml:"per_minute"`
	PerDay    int `toml:"per_day"`
}

// CacheConfig holds hot-cache TTL overrides.
type CacheConfig struct {
	CurrentTTLSeconds        int `toml:"current_ttl_seconds"`
	HistoryRecentSeconds     int `toml:"history_recent_seconds"`
	HistoryMiddaySeconds     int `toml:"history_midday_seconds"`
	HistoryHistoricalSeconds int `toml:"history_historical_seconds"`
}

// SchedulerConfig holds the refresh scheduler's cron expression and active
// window.
type SchedulerConfig struct {
	Cron             string `toml:"cron"`
	ActiveWindowDays int    `toml:"active_window_days"`
}

// MarketConfig holds market-calendar parameters.
type MarketConfig struct {
	CloseTimeUTC int      `toml:"close_time_utc"`
	Holidays     []string `toml:"holidays"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config populated with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			SurrealURL:       "ws://127.0.0.1:8000/rpc",
			SurrealNamespace: "tradesim",
			SurrealDatabase:  "tradesim",
			HotCachePath:     "data/hotcache",
		},
		Provider: ProviderConfig{
			TimeoutSeconds: 10,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 5,
			PerDay:    500,
		},
		Cache: CacheConfig{
			CurrentTTLSeconds:        300,
			HistoryRecentSeconds:     3600,
			HistoryMiddaySeconds:     14400,
			HistoryHistoricalSeconds: 604800,
		},
		Scheduler: SchedulerConfig{
			Cron:             "0 0 * * *",
			ActiveWindowDays: 30,
		},
		Market: MarketConfig{
			CloseTimeUTC: 21,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/tradesim.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from TOML files, merging later files over
// earlier ones, then applies environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	config.Storage.Address = config.Storage.SurrealURL

	return config, nil
}

// ResolveConfigPath resolves the config file location: explicit
// flag/argument, then TRADESIM_CONFIG env, then next to the binary, then a
// development fallback under ./config.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("TRADESIM_CONFIG"); v != "" {
		return v
	}

	binDir := "."
	if exe, err := os.Executable(); err == nil {
		binDir = filepath.Dir(exe)
	}
	candidate := filepath.Join(binDir, "tradesim.toml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return "config/tradesim.toml"
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TRADESIM_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("TRADESIM_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("TRADESIM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("TRADESIM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if v := os.Getenv("TRADESIM_SURREAL_URL"); v != "" {
		config.Storage.SurrealURL = v
	}
	if v := os.Getenv("TRADESIM_PROVIDER_API_KEY"); v != "" {
		config.Provider.APIKey = v
	}
	if v := os.Getenv("TRADESIM_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.PerMinute = n
		}
	}
	if v := os.Getenv("TRADESIM_RATE_LIMIT_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.PerDay = n
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
