// ABOUTME: Configuration loading and parsing for chatlink
// ABOUTME: YAML with env expansion and duration parsing, plus env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatlink configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" env:"CHATLINK_DB_PATH"`
}

// ReconnectConfig holds the live-feed retry schedule
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"-"`
	MaxDelay   time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries" env:"CHATLINK_RECONNECT_MAX_RETRIES"`

	// Raw string values for YAML unmarshaling
	BaseDelayRaw string `yaml:"base_delay" env:"CHATLINK_RECONNECT_BASE_DELAY"`
	MaxDelayRaw  string `yaml:"max_delay" env:"CHATLINK_RECONNECT_MAX_DELAY"`
}

// BridgeConfig holds the WebSocket bridge listener configuration
type BridgeConfig struct {
	Addr string `yaml:"addr" env:"CHATLINK_BRIDGE_ADDR"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CHATLINK_LOG_LEVEL"`
	Format string `yaml:"format" env:"CHATLINK_LOG_FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Path: "chatlink.db"},
		Reconnect: ReconnectConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxRetries: 5},
		Bridge:    BridgeConfig{Addr: "127.0.0.1:8480"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, and CHATLINK_* environment variables override
// file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	cfg.Reconnect.BaseDelay = 0
	cfg.Reconnect.MaxDelay = 0
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Environment overrides beat file values
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must not be negative")
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.BaseDelay > c.Reconnect.MaxDelay {
		return fmt.Errorf("reconnect.base_delay must not exceed reconnect.max_delay")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values, falling back to the defaults when unset.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Reconnect.BaseDelayRaw != "" {
		cfg.Reconnect.BaseDelay, err = time.ParseDuration(cfg.Reconnect.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", cfg.Reconnect.BaseDelayRaw, err)
		}
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}

	if cfg.Reconnect.MaxDelayRaw != "" {
		cfg.Reconnect.MaxDelay, err = time.ParseDuration(cfg.Reconnect.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", cfg.Reconnect.MaxDelayRaw, err)
		}
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = 10 * time.Second
	}

	return nil
}
