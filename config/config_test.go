package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("parse() failed: %v", err)
	}

	if cfg.StorageType != "memory" {
		t.Errorf("StorageType = %q, want memory", cfg.StorageType)
	}
	if cfg.SaveDebounce != 5*time.Second {
		t.Errorf("SaveDebounce = %v, want 5s", cfg.SaveDebounce)
	}
	if cfg.InactivityTimeout != 30*time.Minute {
		t.Errorf("InactivityTimeout = %v, want 30m", cfg.InactivityTimeout)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{
		"STORAGE_TYPE":     "sqlite",
		"DATA_SOURCE_NAME": "/tmp/x.db",
		"JWT_SECRET":       "s3cret",
		"SAVE_DEBOUNCE":    "250ms",
		"ALLOWED_ORIGINS":  "https://a.example,https://b.example,https://c.example",
	}})
	if err != nil {
		t.Fatalf("parse() failed: %v", err)
	}

	if cfg.DataSourceName != "/tmp/x.db" {
		t.Errorf("DataSourceName = %q", cfg.DataSourceName)
	}
	if cfg.SaveDebounce != 250*time.Millisecond {
		t.Errorf("SaveDebounce = %v", cfg.SaveDebounce)
	}
	if len(cfg.AllowedOrigins) != 3 || cfg.AllowedOrigins[2] != "https://c.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown storage":    {"STORAGE_TYPE": "floppy"},
		"s3 without bucket":  {"STORAGE_TYPE": "s3", "JWT_SECRET": "x"},
		"sqlite without jwt": {"STORAGE_TYPE": "sqlite"},
		"zero debounce":      {"SAVE_DEBOUNCE": "0s"},
		"bad duration":       {"CLEANUP_INTERVAL": "soon"},
		"non-positive queue": {"SEND_QUEUE_SIZE": "0"},
	}

	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parse(env.Options{Environment: environ}); err == nil {
				t.Error("parse() succeeded, want error")
			}
		})
	}
}
