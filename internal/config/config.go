package config

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the top-level configuration for the lending service.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Oracle   Oracle   `yaml:"oracle"`
	Lending  Lending  `yaml:"lending"`
	Auth     Auth     `yaml:"auth"`
	Logging  Logging  `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Database selects and configures the position store.
// Driver is "postgres" or "memory".
type Database struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// Oracle configures the price feed.
type Oracle struct {
	Pair      string        `yaml:"pair"`      // e.g. BTC-USDT
	Symbol    string        `yaml:"symbol"`    // exchange symbol, e.g. BTCUSDT
	MaxAge    time.Duration `yaml:"max_age"`   // staleness bound for cached prices
	Streaming bool          `yaml:"streaming"` // subscribe to the websocket feed
}

// Lending holds the risk parameters of the engine.
type Lending struct {
	MaxLTV      string        `yaml:"max_ltv"` // percent, decimal string
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Auth configures token verification.
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns a runnable configuration for local development.
func Default() *Config {
	return &Config{
		Server: Server{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Database: Database{
			Driver:        "memory",
			MigrationsDir: "migrations",
		},
		Oracle: Oracle{
			Pair:      "BTC-USDT",
			Symbol:    "BTCUSDT",
			MaxAge:    10 * time.Second,
			Streaming: true,
		},
		Lending: Lending{
			MaxLTV:      "70",
			LockTimeout: 3 * time.Second,
		},
		Auth: Auth{
			JWTSecret: "change-this-in-production",
			JWTExpiry: 24 * time.Hour,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and applies environment variable overrides. An empty path
// returns the defaults with overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
