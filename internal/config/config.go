// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration knobs for the HTTP server, the store, and the
// payment gateway adapter.
type Config struct {
	ServiceName           string
	Env                   string
	HTTPAddr              string
	ShutdownTimeout       time.Duration
	GatewayTimeout        time.Duration
	DefaultAlertThreshold int
	// PostgresDSN selects the SQL store when set; empty means in-memory.
	PostgresDSN string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		ServiceName:           getenv("SERVICE_NAME", "shopledger"),
		Env:                   getenv("ENV", "dev"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:       durenvs("SHUTDOWN_TIMEOUT", 10),
		GatewayTimeout:        durenvms("GATEWAY_TIMEOUT_MS", 5000),
		DefaultAlertThreshold: atoienv("DEFAULT_ALERT_THRESHOLD", 10),
		PostgresDSN:           getenv("POSTGRES_DSN", ""),
	}
}
