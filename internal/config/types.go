package config

import "time"

// holds all runtime configuration for the dashsync server
type Config struct {
	// postgres connection string for the dashboard document store
	DatabaseURL string

	// redis connection URL for the cache store
	RedisURL string

	// secret used to verify bearer tokens issued by the platform
	JWTSecret string

	// "development" or "production"
	Environment string

	// HTTP listen port
	Port string

	// comma-separated list of allowed browser origins
	AllowedOrigins []string

	// collaborative sessions with no participants are evicted after this
	SessionIdleTimeout time.Duration

	// presence entries with no inbound message for this long are evicted
	PresenceIdleTimeout time.Duration

	// default TTL applied to cache entries when the caller does not pass one
	CacheDefaultTTL time.Duration
}
