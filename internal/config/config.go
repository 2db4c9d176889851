// Package config validates and loads process configuration from the
// environment in a fail-fast, error-collecting style: every invalid
// variable is reported in one pass rather than one at a time.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the relay process.
type Config struct {
	Port string

	RedisURL     string
	RedisEnabled bool

	RequireCode bool
	TrustProxy  bool

	IdentifyWorkers int

	GoEnv    string
	LogLevel string

	DisconnectGrace time.Duration
	RoomReap        time.Duration
	SessionTTL      time.Duration
}

// Load validates all required environment variables and returns a Config.
// Missing optional variables fall back to documented defaults; invalid
// required variables are collected and returned together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisEnabled = cfg.RedisURL != ""
	if !cfg.RedisEnabled {
		slog.Warn("REDIS_URL not set, running in local-only mode (no cross-instance fan-out)")
	}

	cfg.RequireCode = getBoolOrDefault("REQUIRE_CODE", true)
	cfg.TrustProxy = getBoolOrDefault("TRUST_PROXY", false)

	cfg.IdentifyWorkers = getIntOrDefault("IDENTIFY_WORKERS", defaultIdentifyWorkers())
	if cfg.IdentifyWorkers < 1 {
		errs = append(errs, "IDENTIFY_WORKERS must be at least 1")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DisconnectGrace = getDurationMsOrDefault("DISCONNECT_GRACE_MS", 15_000)
	cfg.RoomReap = getDurationMsOrDefault("ROOM_REAP_MS", 60_000)
	cfg.SessionTTL = getDurationHoursOrDefault("SESSION_TTL_HOURS", 24)

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func defaultIdentifyWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		return 2
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return v == "true" || v == "1"
}

func getIntOrDefault(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getDurationMsOrDefault(key string, defaultMs int) time.Duration {
	return time.Duration(getIntOrDefault(key, defaultMs)) * time.Millisecond
}

func getDurationHoursOrDefault(key string, defaultHours int) time.Duration {
	return time.Duration(getIntOrDefault(key, defaultHours)) * time.Hour
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"require_code", cfg.RequireCode,
		"trust_proxy", cfg.TrustProxy,
		"identify_workers", cfg.IdentifyWorkers,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"disconnect_grace", cfg.DisconnectGrace,
		"room_reap", cfg.RoomReap,
		"session_ttl", cfg.SessionTTL,
	)
}
