// Package config provides runtime configuration for the checkout service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds the service's configuration knobs.
type Config struct {
	HTTPAddr        string
	GinMode         string
	ShutdownTimeout time.Duration

	StoreBackend string
	DatabaseURL  string

	AuthSecret string
	SessionTTL time.Duration

	CommitTimeout time.Duration

	NotifyEmailURL     string
	NotifyAnalyticsURL string
	NotifyWorkers      int
	NotifyQueueSize    int

	RateLimitJanitorInterval time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GinMode:         getenv("GIN_MODE", "release"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),

		StoreBackend: getenv("STORE_BACKEND", BackendMemory),
		DatabaseURL:  getenv("DATABASE_URL", ""),

		AuthSecret: getenv("AUTH_SECRET", "dev-only-secret"),
		SessionTTL: durenvs("SESSION_TTL", 86400),

		CommitTimeout: durenvs("COMMIT_TIMEOUT", 10),

		NotifyEmailURL:     getenv("NOTIFY_EMAIL_URL", ""),
		NotifyAnalyticsURL: getenv("NOTIFY_ANALYTICS_URL", ""),
		NotifyWorkers:      atoienv("NOTIFY_WORKERS", 2),
		NotifyQueueSize:    atoienv("NOTIFY_QUEUE_SIZE", 256),

		RateLimitJanitorInterval: durenvs("RATE_LIMIT_JANITOR_INTERVAL", 300),
	}
}
