// ABOUTME: Configuration loading and parsing for storyweave-gateway
// ABOUTME: YAML with env var expansion and duration parsing, plus env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete storyweave-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Channels ChannelsConfig `yaml:"channels"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"STORYWEAVE_HTTP_ADDR"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" env:"STORYWEAVE_DB_PATH"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"-"`
	IdleTTLRaw    string        `yaml:"idle_ttl" env:"STORYWEAVE_IDLE_TTL"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"STORYWEAVE_SWEEP_SCHEDULE"`
}

// ChannelsConfig holds channel adapter configuration
type ChannelsConfig struct {
	// CapabilitiesPath points to an optional TOML file overriding per-channel
	// capability defaults.
	CapabilitiesPath string `yaml:"capabilities_path" env:"STORYWEAVE_CAPABILITIES_PATH"`
}

// DedupeConfig holds request deduplication configuration
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	TTLRaw     string        `yaml:"ttl" env:"STORYWEAVE_DEDUPE_TTL"`
	MaxEntries int           `yaml:"max_entries" env:"STORYWEAVE_DEDUPE_MAX_ENTRIES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STORYWEAVE_LOG_LEVEL"`
	Format string `yaml:"format" env:"STORYWEAVE_LOG_FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "storyweave.db"},
		Sessions: SessionsConfig{
			IdleTTL:       30 * time.Minute,
			SweepSchedule: "@every 5m",
		},
		Dedupe:  DedupeConfig{TTL: 5 * time.Minute, MaxEntries: 10000},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded inside
// the YAML; STORYWEAVE_* environment variables override individual fields
// afterwards. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and STORYWEAVE_* variables
// alone, for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies env overrides, parses durations, and validates.
func (c *Config) finish() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("applying env overrides: %w", err)
	}
	if err := c.parseDurations(); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("sessions.idle_ttl must be positive")
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values
func (c *Config) parseDurations() error {
	var err error

	if c.Sessions.IdleTTLRaw != "" {
		c.Sessions.IdleTTL, err = time.ParseDuration(c.Sessions.IdleTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_ttl %q: %w", c.Sessions.IdleTTLRaw, err)
		}
	}

	if c.Dedupe.TTLRaw != "" {
		c.Dedupe.TTL, err = time.ParseDuration(c.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", c.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
