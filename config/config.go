package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries process configuration read from the environment. A local
// .env file, when present, seeds missing variables.
type Config struct {
	HTTPAddr            string
	DatabaseURL         string
	WebhookSecret       string
	SignerJWTSecret     string
	SigningTokenTTLDays int
	DBMaxConns          int
	DBMinConns          int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		WebhookSecret:       getEnv("ESIGN_WEBHOOK_SECRET", ""),
		SignerJWTSecret:     getEnv("SIGNER_JWT_SECRET", ""),
		SigningTokenTTLDays: getEnvAsInt("SIGNING_TOKEN_TTL_DAYS", 7),
		DBMaxConns:          getEnvAsInt("DB_MAX_CONNS", 8),
		DBMinConns:          getEnvAsInt("DB_MIN_CONNS", 2),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SignerJWTSecret == "" {
		return nil, fmt.Errorf("SIGNER_JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
