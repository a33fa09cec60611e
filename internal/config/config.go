// Package config provides configuration management for the v2blocks tools.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resident-x/go-v2blocks/internal/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. V2BLOCKS_API_PORT.
const EnvPrefix = "V2BLOCKS"

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`
	// ProtocolVersion is used for a device until it reports its own version.
	ProtocolVersion int `mapstructure:"protocol_version"`

	// Schema tables
	Schema struct {
		// Path is a YAML file or directory replacing the embedded tables.
		Path string `mapstructure:"path"`
	} `mapstructure:"schema"`

	// Telemetry session settings
	Session struct {
		TimeoutMinutes         int `mapstructure:"timeout_minutes"`
		CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
	} `mapstructure:"session"`

	// Record validation settings
	Validation struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"validation"`

	// Device framing settings
	Device struct {
		UnitAddress int `mapstructure:"unit_address"`
	} `mapstructure:"device"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:        "info",
		ProtocolVersion: 2000,
	}

	// Default session settings
	cfg.Session.TimeoutMinutes = 30
	cfg.Session.CleanupIntervalSeconds = 60

	// Default validation settings
	cfg.Validation.Level = "standard"

	// Default device settings
	cfg.Device.UnitAddress = 1

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	return cfg
}

// setDefaults registers every key so environment variables can override
// values that no config file mentions.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("protocol_version", cfg.ProtocolVersion)
	v.SetDefault("schema.path", cfg.Schema.Path)
	v.SetDefault("session.timeout_minutes", cfg.Session.TimeoutMinutes)
	v.SetDefault("session.cleanup_interval_seconds", cfg.Session.CleanupIntervalSeconds)
	v.SetDefault("validation.level", cfg.Validation.Level)
	v.SetDefault("device.unit_address", cfg.Device.UnitAddress)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
}

// Load reads the configuration from a file and environment variables.
// An explicit configPath must exist; without one, config.yaml is looked up in
// the working directory and ./config, and defaults apply when it is missing.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			log.Debug().Str("component", "config").Msg("No configuration file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ProtocolVersion < 0 {
		return fmt.Errorf("protocol_version must not be negative, got %d", c.ProtocolVersion)
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("session.timeout_minutes must be positive, got %d", c.Session.TimeoutMinutes)
	}
	if c.Session.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("session.cleanup_interval_seconds must be positive, got %d", c.Session.CleanupIntervalSeconds)
	}
	if _, err := validation.ParseLevel(c.Validation.Level); err != nil {
		return fmt.Errorf("validation.level: %w", err)
	}
	if c.Device.UnitAddress < 1 || c.Device.UnitAddress > 247 {
		return fmt.Errorf("device.unit_address must be within 1..247, got %d", c.Device.UnitAddress)
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be within 1..65535, got %d", c.API.Port)
	}
	return nil
}

// SessionTimeout returns the session inactivity timeout.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often expired sessions are removed.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalSeconds) * time.Second
}

// ValidationLevel returns the parsed validation level.
func (c *Config) ValidationLevel() validation.ValidationLevel {
	level, _ := validation.ParseLevel(c.Validation.Level)
	return level
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("v2blocks Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Int("protocol_version", c.ProtocolVersion).Msg("Fallback Protocol Version")

	schemaPath := c.Schema.Path
	if schemaPath == "" {
		schemaPath = "(embedded)"
	}
	logger.Info().Str("path", schemaPath).Msg("Schema Tables")

	logger.Info().
		Int("timeout_minutes", c.Session.TimeoutMinutes).
		Int("cleanup_interval_seconds", c.Session.CleanupIntervalSeconds).
		Msg("Sessions")
	logger.Info().Str("level", c.Validation.Level).Msg("Validation")
	logger.Info().Int("unit_address", c.Device.UnitAddress).Msg("Device")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Msg("-----------------------------")
}
