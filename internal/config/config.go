package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete server configuration. Defaults are overridden by
// the optional YAML file, which is overridden by TSK_* environment
// variables.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// DatabaseConfig selects and configures the license store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver is for
	// development and tests only; nothing survives a restart.
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	DSN    string `yaml:"dsn" envconfig:"DSN"`
}

// SecurityConfig contains request authentication and admin access settings.
type SecurityConfig struct {
	// LicenseSecret is the shared secret clients sign requests with.
	// It is fixed for the process lifetime.
	LicenseSecret string `yaml:"license_secret" envconfig:"LICENSE_SECRET"`

	// ReplayTolerance is the accepted clock skew for request timestamps.
	ReplayTolerance time.Duration `yaml:"replay_tolerance" envconfig:"REPLAY_TOLERANCE"`

	// AdminKeyHash is the bcrypt hash of the admin API key. When empty the
	// admin API is disabled entirely.
	AdminKeyHash string `yaml:"admin_key_hash" envconfig:"ADMIN_KEY_HASH"`

	// AdminWhitelist restricts admin API access to these client IPs.
	// Empty with AdminWhitelistEnabled=true denies everyone.
	AdminWhitelistEnabled bool     `yaml:"admin_whitelist_enabled" envconfig:"ADMIN_WHITELIST_ENABLED"`
	AdminWhitelist        []string `yaml:"admin_whitelist" envconfig:"ADMIN_WHITELIST"`

	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Default returns the configuration defaults applied before the file and
// environment are read.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Security: SecurityConfig{
			ReplayTolerance:       5 * time.Minute,
			AdminWhitelistEnabled: true,
			AdminWhitelist:        []string{"127.0.0.1", "::1"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   25,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/tskeyd.log",
		},
	}
}

// Load reads configuration starting from Default, applies the optional YAML
// file named by TSK_CONFIG_FILE (default config.yml) and then applies TSK_*
// environment variables on top.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("TSK_CONFIG_FILE")
	if path == "" {
		path = "config.yml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := envconfig.Process("TSK", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Security.LicenseSecret == "" {
		return fmt.Errorf("security.license_secret is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Security.ReplayTolerance <= 0 {
		return fmt.Errorf("security.replay_tolerance must be positive")
	}
	return nil
}
