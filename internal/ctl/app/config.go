package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL string // Base URL of the chess platform API (default: http://localhost:8080)

	Store      string // Token store backend (memory, sqlite, redis) (default: sqlite)
	SQLitePath string // Path to the SQLite token store file (default: ./chessauth.db)
	RedisURL   string // Redis URL when Store is redis (e.g. redis://localhost:6379/0)

	RequestTimeout time.Duration // HTTP request timeout (default: 10s)
	RateLimit      int           // Outgoing requests per second, 0 disables the limiter (default: 0)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		APIBaseURL:     getEnvOrDefault("CHESSAUTH_API_URL", "http://localhost:8080"),
		Store:          getEnvOrDefault("CHESSAUTH_STORE", "sqlite"),
		SQLitePath:     getEnvOrDefault("CHESSAUTH_DB_FILE", "chessauth.db"),
		RedisURL:       os.Getenv("CHESSAUTH_REDIS_URL"),
		RequestTimeout: getEnvDurationOrDefault("CHESSAUTH_TIMEOUT", 10*time.Second),
		RateLimit:      getEnvIntOrDefault("CHESSAUTH_RATE_LIMIT", 0),
		Env:            getEnvOrDefault("ENV", "dev"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
