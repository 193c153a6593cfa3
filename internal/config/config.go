// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting of the matchmaking service.
type Config struct {
	Port string

	RedisAddr     string
	RedisDB       int
	RedisPassword string

	PostgresUser     string
	PostgresPassword string
	PGHost           string
	PGPort           string
	PGDatabase       string

	TokenExpire       string
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	InternalAPIToken  string

	OfflineGrace    time.Duration
	JobPollInterval time.Duration

	RankStep       int
	MaxPasses      int
	ConfirmTimeout time.Duration
}

// Load reads the configuration from the environment, falling back to defaults.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PGHost:           getEnv("PG_HOST", "localhost"),
		PGPort:           getEnv("PG_PORT", "5432"),
		PGDatabase:       os.Getenv("PG_DATABASE"),

		TokenExpire:       os.Getenv("TOKEN_EXPIRE_TIME"),
		JWTPrivateKeyPath: os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),
		InternalAPIToken:  os.Getenv("INTERNAL_API_TOKEN"),

		OfflineGrace:    getEnvDuration("OFFLINE_GRACE", 30*time.Second),
		JobPollInterval: getEnvDuration("JOB_POLL_INTERVAL", time.Second),

		RankStep:       getEnvInt("MATCHMAKING_RANK_STEP", 100),
		MaxPasses:      getEnvInt("MATCHMAKING_MAX_PASSES", 50),
		ConfirmTimeout: getEnvDuration("MATCHMAKING_CONFIRM_TIMEOUT", 30*time.Second),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses values like "30s" or "1m"; a bare integer is read as seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
