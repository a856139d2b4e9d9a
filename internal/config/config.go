package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application settings, stored as JSON under the user config
// directory.
type Config struct {
	DataDir               string `json:"data_dir"`
	Timezone              string `json:"timezone"`
	WeekStartsOn          string `json:"week_starts_on"`
	DefaultView           string `json:"default_view"`
	SyncFreshnessMinutes  int    `json:"sync_freshness_minutes"`
	MaxConcurrentFetches  int    `json:"max_concurrent_fetches"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}

	return &Config{
		DataDir:               filepath.Join(dataDir, "farmcal"),
		Timezone:              "",
		WeekStartsOn:          "sunday",
		DefaultView:           "month",
		SyncFreshnessMinutes:  5,
		MaxConcurrentFetches:  8,
		RequestTimeoutSeconds: 15,
	}
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "farmcal", "config.json"), nil
}

// Load reads the config file, creating it with defaults if missing.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DatabasePath returns the sqlite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "farmcal.db")
}

// Location resolves the configured timezone, defaulting to the system
// local zone. All-day events resolve their calendar dates here.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStart maps the configured week start day onto a weekday.
func (c *Config) WeekStart() (time.Weekday, error) {
	switch strings.ToLower(c.WeekStartsOn) {
	case "", "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("bad week_starts_on %q (want sunday, monday or saturday)", c.WeekStartsOn)
}

// RequestTimeout returns the per-request timeout for remote provider
// calls.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Freshness returns the sync freshness TTL.
func (c *Config) Freshness() time.Duration {
	if c.SyncFreshnessMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SyncFreshnessMinutes) * time.Minute
}
