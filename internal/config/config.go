package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultAddr       = ":8787"
	DefaultDSN        = "file:data/tokenmeter.db"
	DefaultRedisAddr  = "127.0.0.1:6379"
	defaultConfigFile = "config.yaml"
	configPathEnv     = "TOKENMETER_CONFIG"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address, host:port.
}

// DatabaseConfig holds the durable store settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL or SQLite DSN.
}

// RedisConfig holds the counter store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis address, host:port.
	Password string `yaml:"password"` // Optional password.
	DB       int    `yaml:"db"`       // Logical database index.
}

// LoggingConfig holds log level and optional rotating file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`       // logrus level name, default info.
	File       string `yaml:"file"`        // Log file path; empty logs to stderr.
	MaxSizeMB  int    `yaml:"max-size"`    // Rotate after this many megabytes.
	MaxBackups int    `yaml:"max-backups"` // Rotated files to keep.
	MaxAgeDays int    `yaml:"max-age"`     // Days to keep rotated files.
}

// Config is the root configuration for the meter service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ResolveConfigPath picks the config file path from the argument, the
// environment, or the default location, in that order.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(configPathEnv)); fromEnv != "" {
		return fromEnv
	}
	return defaultConfigFile
}

// Load reads the YAML config file and applies defaults. A missing file is not
// an error; the defaults stand alone for local use.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		if !os.IsNotExist(errRead) {
			return nil, fmt.Errorf("config: read: %w", errRead)
		}
	} else if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultAddr
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = DefaultDSN
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}
