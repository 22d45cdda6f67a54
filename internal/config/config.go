// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BIZSYNC_"

// Config holds the client, sync engine and reference server settings.
type Config struct {
	// Remote connection
	ServerURL   string        `yaml:"server_url"`
	JWTSecret   string        `yaml:"jwt_secret"`
	SellerID    string        `yaml:"seller_id"`
	DeviceID    string        `yaml:"device_id"` // generated and persisted when empty
	TokenExpiry time.Duration `yaml:"token_expiry"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Local store
	DatabasePath string `yaml:"database_path"`

	// Sync engine
	SyncInterval   time.Duration `yaml:"sync_interval"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	RetryCap       int           `yaml:"retry_cap"`
	DedupWindow    time.Duration `yaml:"dedup_window"`
	HealthInterval time.Duration `yaml:"health_interval"`

	// Plan continuity
	PlanTickInterval     time.Duration `yaml:"plan_tick_interval"`
	PlanRefreshCooldown  time.Duration `yaml:"plan_refresh_cooldown"`
	PlanSwitchCooldown   time.Duration `yaml:"plan_switch_cooldown"`
	UsageRefreshInterval time.Duration `yaml:"usage_refresh_interval"`
	PromptDebounce       time.Duration `yaml:"prompt_debounce"`

	// Reference server
	ListenAddr    string `yaml:"listen_addr"`
	DatabaseURL   string `yaml:"database_url"` // Postgres; in-memory backend when empty
	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a configuration with defaults suitable for a single device.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:   "http://localhost:8080",
		JWTSecret:   "your-secret-key-change-in-production",
		TokenExpiry: 24 * time.Hour,
		HTTPTimeout: 30 * time.Second,

		DatabasePath: "bizsync.db",

		SyncInterval:   30 * time.Second,
		SettleDelay:    2 * time.Second,
		RetryCap:       3,
		DedupWindow:    5 * time.Second,
		HealthInterval: 15 * time.Second,

		PlanTickInterval:     time.Minute,
		PlanRefreshCooldown:  30 * time.Second,
		PlanSwitchCooldown:   5 * time.Minute,
		UsageRefreshInterval: time.Minute,
		PromptDebounce:       10 * time.Minute,

		ListenAddr: ":8080",

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration: defaults, then .env (if present), then the YAML
// file at path (if path is not empty), then BIZSYNC_* environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.RetryCap < 0 {
		return fmt.Errorf("retry_cap must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"sync_interval":          c.SyncInterval,
		"plan_tick_interval":     c.PlanTickInterval,
		"usage_refresh_interval": c.UsageRefreshInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_URL":     &c.ServerURL,
		"JWT_SECRET":     &c.JWTSecret,
		"SELLER_ID":      &c.SellerID,
		"DEVICE_ID":      &c.DeviceID,
		"DATABASE_PATH":  &c.DatabasePath,
		"LISTEN_ADDR":    &c.ListenAddr,
		"DATABASE_URL":   &c.DatabaseURL,
		"REDIS_ADDRESS":  &c.RedisAddress,
		"REDIS_PASSWORD": &c.RedisPassword,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FORMAT":     &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_EXPIRY":           &c.TokenExpiry,
		"HTTP_TIMEOUT":           &c.HTTPTimeout,
		"SYNC_INTERVAL":          &c.SyncInterval,
		"SETTLE_DELAY":           &c.SettleDelay,
		"DEDUP_WINDOW":           &c.DedupWindow,
		"HEALTH_INTERVAL":        &c.HealthInterval,
		"PLAN_TICK_INTERVAL":     &c.PlanTickInterval,
		"PLAN_REFRESH_COOLDOWN":  &c.PlanRefreshCooldown,
		"PLAN_SWITCH_COOLDOWN":   &c.PlanSwitchCooldown,
		"USAGE_REFRESH_INTERVAL": &c.UsageRefreshInterval,
		"PROMPT_DEBOUNCE":        &c.PromptDebounce,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "RETRY_CAP"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sRETRY_CAP: %w", EnvPrefix, err)
		}
		c.RetryCap = n
	}
	return nil
}
