// Package config loads the settlement engine's configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	Epsilon                  decimal.Decimal
	CarryRepriceThreshold    decimal.Decimal
	MaxCompressionIterations int
}

// Load reads configuration from environment variables, applying defaults.
// Variables from the file named by ENV_FILE (default .env) fill in anything
// the environment does not already set.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if cfg.Epsilon, err = getEnvAsDecimal("SETTLEMENT_EPSILON", "0.001"); err != nil {
		return nil, err
	}
	if cfg.Epsilon.IsNegative() {
		return nil, fmt.Errorf("SETTLEMENT_EPSILON must not be negative")
	}
	if cfg.CarryRepriceThreshold, err = getEnvAsDecimal("CARRY_REPRICE_THRESHOLD", "0.25"); err != nil {
		return nil, err
	}
	if !cfg.CarryRepriceThreshold.IsPositive() {
		return nil, fmt.Errorf("CARRY_REPRICE_THRESHOLD must be positive")
	}
	if cfg.MaxCompressionIterations, err = strconv.Atoi(getEnv("COMPRESSION_MAX_ITERATIONS", "10000")); err != nil {
		return nil, fmt.Errorf("COMPRESSION_MAX_ITERATIONS: %w", err)
	}
	if cfg.MaxCompressionIterations < 1 {
		return nil, fmt.Errorf("COMPRESSION_MAX_ITERATIONS must be at least 1")
	}

	return cfg, nil
}

// loadDotEnv is a no-op when path does not exist.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getEnv(key, defaultVal))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
