// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	// Server
	Port            string
	ShutdownTimeout time.Duration
	// Requests per minute per client IP; 0 disables rate limiting.
	RateLimitPerMinute int

	// Store
	StoreDriver  string
	DatabasePath string
	DatabaseURL  string

	// Occupancy engine
	ConflictMaxRetries int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		StoreDriver:  getEnv("STORE_DRIVER", DriverSQLite),
		DatabasePath: getEnv("DATABASE_PATH", "pgkeeper.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		ConflictMaxRetries: getEnvInt("CONFLICT_MAX_RETRIES", 3),
	}

	switch cfg.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.StoreDriver)
	}

	if cfg.ConflictMaxRetries < 0 {
		return nil, fmt.Errorf("CONFLICT_MAX_RETRIES must not be negative, got %d", cfg.ConflictMaxRetries)
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", cfg.RateLimitPerMinute)
	}

	return cfg, nil
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.StoreDriver == DriverPostgres {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
