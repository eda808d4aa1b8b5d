// Package config holds the splitgate configuration tree, loaded from YAML
// with zero-config defaults, plus a Loader supporting reload and fsnotify
// hot reload.
package config

import (
	"time"
)

// Config is the top-level splitgate configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Experiments ExperimentsConfig `yaml:"experiments"`
	Storage     StorageConfig     `yaml:"storage"`
	Cookies     CookiesConfig     `yaml:"cookies"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

// ExperimentsConfig describes the remote config store and cache behavior.
type ExperimentsConfig struct {
	SourceURL    string        `yaml:"source_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	Driver    string        `yaml:"driver"` // sqlite, memory
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// CookiesConfig controls the visitor and assignment cookies.
type CookiesConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Secure bool          `yaml:"secure"` // mark cookies Secure; enable behind HTTPS
}

// AnalyticsConfig configures the exposure/conversion event sinks.
type AnalyticsConfig struct {
	Webhook WebhookSinkConfig `yaml:"webhook"`
	Log     bool              `yaml:"log"`
}

type WebhookSinkConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup: memory-less sqlite file next to the binary, 60s cache TTL,
// 1-year cookies.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7340,
			LogLevel: "info",
			CORS:     false,
		},
		Experiments: ExperimentsConfig{
			FetchTimeout: 5 * time.Second,
			CacheTTL:     60 * time.Second,
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./splitgate.db",
			Retention: 90 * 24 * time.Hour,
		},
		Cookies: CookiesConfig{
			TTL:    365 * 24 * time.Hour,
			Secure: false,
		},
		Analytics: AnalyticsConfig{
			Log: true,
		},
	}
}
