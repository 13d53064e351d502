// Package config loads runtime configuration from environment
// variables with sensible defaults. Command-line flags override loaded
// values where the commands expose them.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full runtime configuration.
type Config struct {
	DBPath    string
	LogFormat string // "text" (default) or "json"
	LogLevel  string // "debug", "info" (default), "warn", "error"

	// WorkerInterval is the scheduler tick driving run scheduling and
	// delivery sweeps.
	WorkerInterval time.Duration
	// SweepBatch caps how many due messages one delivery sweep attempts.
	SweepBatch int

	RetryBase  time.Duration
	RetryCap   time.Duration
	MaxRetries int

	LogRetention     time.Duration // run and contract logs
	MessageRetention time.Duration // event messages
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DBPath:    "./syncbridge.db",
		LogFormat: "text",
		LogLevel:  "info",

		WorkerInterval: 30 * time.Second,
		SweepBatch:     100,

		RetryBase:  time.Minute,
		RetryCap:   6 * time.Hour,
		MaxRetries: 10,

		LogRetention:     30 * 24 * time.Hour,
		MessageRetention: 7 * 24 * time.Hour,
	}

	if v := os.Getenv("SYNCBRIDGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SYNCBRIDGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SYNCBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYNCBRIDGE_WORKER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WorkerInterval = d
		}
	}
	if v := os.Getenv("SYNCBRIDGE_SWEEP_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepBatch = n
		}
	}
	if v := os.Getenv("SYNCBRIDGE_RETRY_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetryBase = d
		}
	}
	if v := os.Getenv("SYNCBRIDGE_RETRY_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetryCap = d
		}
	}
	if v := os.Getenv("SYNCBRIDGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("SYNCBRIDGE_LOG_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.LogRetention = d
		}
	}
	if v := os.Getenv("SYNCBRIDGE_MESSAGE_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.MessageRetention = d
		}
	}

	return cfg
}

// NewLogger builds the process logger according to LogFormat/LogLevel.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseDaysDuration parses "30d" style values, falling back to
// time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
