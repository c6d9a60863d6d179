// Package config carries the relay's runtime configuration as an explicit
// value. Everything is resolved once at startup (YAML file, then env
// overrides, then defaults) and injected into constructors so independently
// configured instances can coexist in tests.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverSupabase = "supabase"
)

type Config struct {
	Listen  string `yaml:"listen"`
	BaseURL string `yaml:"base_url"` // public base URL used to build asset links
	APIKey  string `yaml:"api_key"`  // empty disables /v1 auth (first-run)

	Store StoreConfig `yaml:"store"`

	UpstreamURL string `yaml:"upstream_url"` // session gateway base URL

	AssetDir    string        `yaml:"asset_dir"`
	AssetExpiry time.Duration `yaml:"asset_expiry"`
	SweepSpec   string        `yaml:"sweep_spec"` // robfig/cron spec

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	StreamChunkSize int           `yaml:"stream_chunk_size"` // runes per SSE delta
	StreamDelay     time.Duration `yaml:"stream_delay"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // "sqlite" or "supabase"
	DBPath      string `yaml:"db_path"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:          "127.0.0.1:8001",
		BaseURL:         "http://127.0.0.1:8001",
		Store:           StoreConfig{Driver: StoreDriverSQLite, DBPath: "relay.db"},
		UpstreamURL:     "http://127.0.0.1:8008",
		AssetDir:        "static/images",
		AssetExpiry:     24 * time.Hour,
		SweepSpec:       "@every 1h",
		RetryAttempts:   3,
		RetryDelay:      5 * time.Second,
		StreamChunkSize: 10,
		StreamDelay:     10 * time.Millisecond,
	}
}

// Load builds the configuration from an optional YAML file and env overrides.
// A missing file at the default path is not an error; an explicit path that
// does not exist is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Listen, "RELAY_LISTEN")
	setString(&cfg.BaseURL, "RELAY_BASE_URL")
	setString(&cfg.APIKey, "RELAY_API_KEY")
	setString(&cfg.Store.Driver, "RELAY_STORE_DRIVER")
	setString(&cfg.Store.DBPath, "RELAY_DB_PATH")
	setString(&cfg.Store.SupabaseURL, "SUPABASE_URL")
	setString(&cfg.Store.SupabaseKey, "SUPABASE_KEY")
	setString(&cfg.UpstreamURL, "RELAY_UPSTREAM_URL")
	setString(&cfg.AssetDir, "RELAY_ASSET_DIR")

	if v := os.Getenv("IMAGE_EXPIRY_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.AssetExpiry = time.Duration(hours) * time.Hour
		}
	}

	// Supabase coordinates present but no explicit driver: prefer the
	// remote store, matching the original deployment shape.
	if os.Getenv("RELAY_STORE_DRIVER") == "" &&
		os.Getenv("SUPABASE_URL") != "" && os.Getenv("SUPABASE_KEY") != "" {
		cfg.Store.Driver = StoreDriverSupabase
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("store driver %q requires db_path", c.Store.Driver)
		}
	case StoreDriverSupabase:
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return fmt.Errorf("store driver %q requires supabase_url and supabase_key", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.StreamChunkSize < 1 {
		return fmt.Errorf("stream_chunk_size must be >= 1, got %d", c.StreamChunkSize)
	}
	return nil
}
