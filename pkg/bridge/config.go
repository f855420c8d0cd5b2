// Package bridge holds the service configuration for the msgbridge binary.
package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Manager     ManagerConfig     `yaml:"manager"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DatabaseConfig configures the status sink datastore. An empty DSN
// disables the sink entirely.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// GatewayConfig configures the messaging gateway connection.
type GatewayConfig struct {
	// URL is the gateway websocket endpoint, e.g. wss://gw.local/v1.
	URL string `yaml:"url"`
}

// CredentialsConfig configures credential persistence.
type CredentialsConfig struct {
	// Dir is the root data directory; one subdirectory per session id.
	Dir string `yaml:"dir"`
}

// ManagerConfig tunes the session lifecycle manager.
type ManagerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

// MonitorConfig tunes the staleness sweep.
type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Configuration defaults.
const (
	DefaultAddress        = ":8080"
	DefaultCredentialsDir = "data/credentials"
	DefaultLogLevel       = "info"
)

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Credentials.Dir == "" {
		cfg.Credentials.Dir = DefaultCredentialsDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// Validate checks the config for inconsistent values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	if c.Manager.MaxAttempts < 0 {
		return fmt.Errorf("manager.max_attempts must not be negative")
	}
	if c.Monitor.StaleThreshold < 0 {
		return fmt.Errorf("monitor.stale_threshold must not be negative")
	}
	return nil
}
