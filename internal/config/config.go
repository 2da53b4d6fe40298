package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all options for the tournament service.
type Config struct {
	// Database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite3"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"bracket.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"`
	MaxOpenConns   int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`

	// Resilience
	AcquireTimeoutMS       int     `env:"DB_ACQUIRE_TIMEOUT_MS" envDefault:"30000"`
	RetryMaxAttempts       int     `env:"DB_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelayMS    int     `env:"DB_RETRY_INITIAL_DELAY_MS" envDefault:"1000"`
	RetryBackoffMultiplier float64 `env:"DB_RETRY_BACKOFF_MULTIPLIER" envDefault:"2"`
	HealthCheckIntervalMS  int     `env:"DB_HEALTH_CHECK_INTERVAL_MS" envDefault:"30000"`

	// Snapshot cache, disabled when empty
	RedisURL        string        `env:"REDIS_URL"`
	BracketCacheTTL time.Duration `env:"BRACKET_CACHE_TTL" envDefault:"24h"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Logging
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogNoColor bool   `env:"LOG_NO_COLOR" envDefault:"false"`
}

// Load reads a .env file if present and then the process environment.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may be set directly
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom builds a Config from an explicit environment map only.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.AcquireTimeoutMS <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT_MS must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("DB_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryInitialDelayMS < 0 {
		return fmt.Errorf("DB_RETRY_INITIAL_DELAY_MS must not be negative")
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("DB_RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.HealthCheckIntervalMS <= 0 {
		return fmt.Errorf("DB_HEALTH_CHECK_INTERVAL_MS must be positive")
	}
	return nil
}

func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelayMS) * time.Millisecond
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMS) * time.Millisecond
}
