// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisURL    string

	// RPCURLs is the rotation list. RPC_URLS (comma separated) overrides
	// RPC_URL; with only RPC_URL set the list has one entry.
	RPCURLs []string

	// AuthSecret guards the unverify/pda-updates webhooks.
	AuthSecret string

	// LogsBaseURL prefixes build-log artifact names in /logs responses.
	LogsBaseURL string

	// Sweeper tuning.
	SweepInterval      time.Duration
	SweepBatchSize     int
	SweepMaxConcurrent int

	// OTLPEndpoint enables telemetry export when non-empty.
	OTLPEndpoint string
}

// Load reads configuration from the environment. It returns an error for any
// missing required variable so main can exit nonzero at startup.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getenvDefault("PORT", "3000"),
		LogLevel:           getenvDefault("LOG_LEVEL", "INFO"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AuthSecret:         os.Getenv("AUTH_SECRET"),
		LogsBaseURL:        getenvDefault("LOGS_BASE_URL", ""),
		SweepInterval:      time.Duration(getenvInt("PROGRAM_STATUS_UPDATE_INTERVAL_SECONDS", 300)) * time.Second,
		SweepBatchSize:     getenvInt("PROGRAM_STATUS_BATCH_SIZE", 20),
		SweepMaxConcurrent: getenvInt("PROGRAM_STATUS_MAX_CONCURRENT", 5),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	if urls := os.Getenv("RPC_URLS"); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.RPCURLs = append(cfg.RPCURLs, u)
			}
		}
	} else if u := os.Getenv("RPC_URL"); u != "" {
		cfg.RPCURLs = []string{u}
	}
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("RPC_URL or RPC_URLS is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
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
