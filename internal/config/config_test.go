package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DBPath != "./syncbridge.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.WorkerInterval != 30*time.Second {
		t.Errorf("WorkerInterval = %v", cfg.WorkerInterval)
	}
	if cfg.RetryBase != time.Minute || cfg.RetryCap != 6*time.Hour || cfg.MaxRetries != 10 {
		t.Errorf("retry config = %v/%v/%d", cfg.RetryBase, cfg.RetryCap, cfg.MaxRetries)
	}
	if cfg.LogRetention != 30*24*time.Hour || cfg.MessageRetention != 7*24*time.Hour {
		t.Errorf("retention = %v/%v", cfg.LogRetention, cfg.MessageRetention)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SYNCBRIDGE_DB_PATH", "/var/lib/syncbridge/data.db")
	t.Setenv("SYNCBRIDGE_LOG_FORMAT", "json")
	t.Setenv("SYNCBRIDGE_WORKER_INTERVAL", "5s")
	t.Setenv("SYNCBRIDGE_SWEEP_BATCH", "25")
	t.Setenv("SYNCBRIDGE_MAX_RETRIES", "4")
	t.Setenv("SYNCBRIDGE_LOG_RETENTION", "14d")
	t.Setenv("SYNCBRIDGE_MESSAGE_RETENTION", "48h")

	cfg := Load()
	if cfg.DBPath != "/var/lib/syncbridge/data.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.WorkerInterval != 5*time.Second {
		t.Errorf("WorkerInterval = %v", cfg.WorkerInterval)
	}
	if cfg.SweepBatch != 25 {
		t.Errorf("SweepBatch = %d", cfg.SweepBatch)
	}
	if cfg.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.LogRetention != 14*24*time.Hour {
		t.Errorf("LogRetention = %v", cfg.LogRetention)
	}
	if cfg.MessageRetention != 48*time.Hour {
		t.Errorf("MessageRetention = %v", cfg.MessageRetention)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SYNCBRIDGE_WORKER_INTERVAL", "soon")
	t.Setenv("SYNCBRIDGE_SWEEP_BATCH", "-1")
	t.Setenv("SYNCBRIDGE_LOG_RETENTION", "0d")

	cfg := Load()
	if cfg.WorkerInterval != 30*time.Second {
		t.Errorf("WorkerInterval = %v", cfg.WorkerInterval)
	}
	if cfg.SweepBatch != 100 {
		t.Errorf("SweepBatch = %d", cfg.SweepBatch)
	}
	if cfg.LogRetention != 30*24*time.Hour {
		t.Errorf("LogRetention = %v", cfg.LogRetention)
	}
}

func TestParseDaysDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30d", 30 * 24 * time.Hour},
		{" 7d ", 7 * 24 * time.Hour},
		{"36h", 36 * time.Hour},
		{"90m", 90 * time.Minute},
		{"-2d", 0},
		{"soon", 0},
	}
	for _, tc := range cases {
		if got := parseDaysDuration(tc.in); got != tc.want {
			t.Errorf("parseDaysDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogFormat: "json", LogLevel: "warn"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line leaked past warn level")
	}
	if !strings.Contains(out, `"msg":"visible"`) {
		t.Errorf("output not JSON: %q", out)
	}
}
