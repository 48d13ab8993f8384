package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultSessionIdleTimeout  = 10 * time.Minute
	defaultPresenceIdleTimeout = 60 * time.Second
	defaultCacheTTL            = 5 * time.Minute
)

// loads configuration from environment variables
func LoadEnvironmentVariables() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have a .env file
	}

	databaseURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	environment := os.Getenv("ENVIRONMENT")
	port := os.Getenv("PORT")

	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable is required")
	}

	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if environment == "" {
		environment = "development"
	}

	if port == "" {
		port = "8080"
	}

	var origins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		origins = strings.Split(raw, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	return &Config{
		DatabaseURL:         databaseURL,
		RedisURL:            redisURL,
		JWTSecret:           jwtSecret,
		Environment:         environment,
		Port:                port,
		AllowedOrigins:      origins,
		SessionIdleTimeout:  durationEnv("SESSION_IDLE_TIMEOUT", defaultSessionIdleTimeout),
		PresenceIdleTimeout: durationEnv("PRESENCE_IDLE_TIMEOUT", defaultPresenceIdleTimeout),
		CacheDefaultTTL:     durationEnv("CACHE_DEFAULT_TTL", defaultCacheTTL),
	}, nil
}

// reads a duration from the environment, falling back to a default
// on missing or unparseable values
func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
