// Package config provides configuration management for ctxview.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default HTTP port for the viewer.
	DefaultPort = 3000

	// DefaultWSPort is the default port of the push-variant WebSocket hub.
	DefaultWSPort = 8765

	// DefaultRedisURL points at a local Redis.
	DefaultRedisURL = "redis://localhost:6379"

	// DefaultChannelPrefix namespaces the pub/sub channels and stats key.
	DefaultChannelPrefix = "ctxview:"

	// SettingsFile is looked up inside the base directory.
	SettingsFile = "ctxview.yaml"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	// BasePath is the directory holding the documents.
	BasePath string `yaml:"-"`

	// Viewer settings
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	OpenBrowser bool   `yaml:"open_browser"`

	// Push variant settings
	Push          bool          `yaml:"push"`
	RedisURL      string        `yaml:"redis_url"`
	WSPort        int           `yaml:"ws_port"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	TTIWindow     int           `yaml:"tti_window"`
	TTITargetMS   float64       `yaml:"tti_target_ms"`

	// Polling agent settings
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	// Storage
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlite_path"`

	// Keywords overrides individual classifier keyword sets by name.
	Keywords map[string][]string `yaml:"keywords"`

	// OTLP metric export. Empty MetricsEndpoint disables it.
	MetricsEndpoint string        `yaml:"metrics_endpoint"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	MetricsInsecure bool          `yaml:"metrics_insecure"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		BasePath:        ".",
		Port:            DefaultPort,
		Host:            "localhost",
		OpenBrowser:     true,
		RedisURL:        DefaultRedisURL,
		WSPort:          DefaultWSPort,
		ChannelPrefix:   DefaultChannelPrefix,
		CacheTTL:        time.Hour,
		TTIWindow:       100,
		TTITargetMS:     50,
		PollInterval:    2 * time.Second,
		ErrorBackoff:    5 * time.Second,
		Store:           StoreFile,
		MetricsInterval: 15 * time.Second,
		LogLevel:        "info",
	}
}

// Load builds the configuration for basePath: defaults, then the optional
// settings file in basePath, then CTXVIEW_* environment variables.
func Load(basePath string) (*Config, error) {
	cfg := Default()
	if basePath != "" {
		cfg.BasePath = basePath
	}

	data, err := os.ReadFile(filepath.Join(cfg.BasePath, SettingsFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SettingsFile, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", SettingsFile, err)
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// applyEnv overrides settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CTXVIEW_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Port = p
		}
	}
	if v := os.Getenv("CTXVIEW_WS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WSPort = p
		}
	}
	if v := os.Getenv("CTXVIEW_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("CTXVIEW_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("CTXVIEW_METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v
	}
	if v := os.Getenv("CTXVIEW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("invalid ws port %d", c.WSPort)
	}
	if c.Store != StoreFile && c.Store != StoreSQLite {
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreFile, StoreSQLite)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.TTIWindow <= 0 {
		return fmt.Errorf("tti_window must be positive")
	}
	return nil
}

// CheckBasePath returns an error when the base directory does not exist.
func (c *Config) CheckBasePath() error {
	info, err := os.Stat(c.BasePath)
	if err != nil {
		return fmt.Errorf("directory %s does not exist: %w", c.BasePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.BasePath)
	}
	return nil
}

// SQLiteFile returns the database path used by the sqlite store.
func (c *Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.BasePath, "ctxview.db")
}

// Addr is the viewer listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WSAddr is the hub listen address.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.WSPort)
}
