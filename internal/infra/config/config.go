// Package config provides application-wide configuration loaded from env vars.
// All fields have safe defaults so the binary runs locally without any env setup.
// JWT_SECRET is the one exception: it is read lazily by pkg/auth and has no default.
package config

import (
	"os"
	"strconv"
)

// Config holds runtime configuration for PlanPilot.
type Config struct {
	// HTTP
	Port     string // PORT — default: "8080"
	LogLevel string // LOG_LEVEL — default: "info"

	// Storage
	DBPath string // DB_PATH — default: "planpilot.db"

	// Work item platform
	WorkItemsBaseURL string // WORKITEMS_BASE_URL — default: "http://localhost:9090"
	WorkItemsToken   string // WORKITEMS_TOKEN — default: "" (unauthenticated local instance)

	// Streaming
	StreamFlushDelayMS  int // STREAM_FLUSH_DELAY_MS — default: 150
	StreamEmitThreshold int // STREAM_EMIT_THRESHOLD — default: 100
	StreamHardLimit     int // STREAM_HARD_LIMIT — default: 10000
}

const (
	envKeyPort                = "PORT"
	envKeyLogLevel            = "LOG_LEVEL"
	envKeyDBPath              = "DB_PATH"
	envKeyWorkItemsBaseURL    = "WORKITEMS_BASE_URL"
	envKeyWorkItemsToken      = "WORKITEMS_TOKEN"
	envKeyStreamFlushDelayMS  = "STREAM_FLUSH_DELAY_MS"
	envKeyStreamEmitThreshold = "STREAM_EMIT_THRESHOLD"
	envKeyStreamHardLimit     = "STREAM_HARD_LIMIT"
)

// Load reads configuration from environment variables, applying defaults for missing values.
func Load() Config {
	return Config{
		Port:                envOr(envKeyPort, "8080"),
		LogLevel:            envOr(envKeyLogLevel, "info"),
		DBPath:              envOr(envKeyDBPath, "planpilot.db"),
		WorkItemsBaseURL:    envOr(envKeyWorkItemsBaseURL, "http://localhost:9090"),
		WorkItemsToken:      os.Getenv(envKeyWorkItemsToken),
		StreamFlushDelayMS:  envOrInt(envKeyStreamFlushDelayMS, 150),
		StreamEmitThreshold: envOrInt(envKeyStreamEmitThreshold, 100),
		StreamHardLimit:     envOrInt(envKeyStreamHardLimit, 10000),
	}
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrInt parses the environment variable as an integer, falling back on
// missing, unparsable, or non-positive values.
func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
