package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTOSAVE_DEBOUNCE_MS", "")
	t.Setenv("LOCAL_STORE", "")
	t.Setenv("KICK_POLL_INTERVAL_SEC", "")

	cfg := Load()

	if cfg.AutosaveDebounce != 5*time.Second {
		t.Fatalf("debounce = %v, want 5s", cfg.AutosaveDebounce)
	}
	if cfg.AutosaveMaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.AutosaveMaxAttempts)
	}
	if cfg.KickPollEvery != 10*time.Second {
		t.Fatalf("kick poll = %v, want 10s", cfg.KickPollEvery)
	}
	if cfg.LocalStore != LocalStoreSQLite {
		t.Fatalf("local store = %q, want sqlite", cfg.LocalStore)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_DEBOUNCE_MS", "250")
	t.Setenv("PROCTOR_FEED", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, http://kiosk.local ,")

	cfg := Load()

	if cfg.AutosaveDebounce != 250*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.AutosaveDebounce)
	}
	if !cfg.ProctorFeed {
		t.Fatal("proctor feed should be enabled")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://kiosk.local" {
		t.Fatalf("origins = %#v", cfg.AllowedOrigins)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown local store", func(c *Config) { c.LocalStore = "floppy" }},
		{"zero attempts", func(c *Config) { c.AutosaveMaxAttempts = 0 }},
		{"zero db conns", func(c *Config) { c.MaxDBConns = 0 }},
		{"zero max warnings", func(c *Config) { c.IntegrityMaxWarnings = 0 }},
		{"zero debounce", func(c *Config) { c.AutosaveDebounce = 0 }},
		{"zero retry base", func(c *Config) { c.AutosaveRetryBase = 0 }},
		{"zero replay interval", func(c *Config) { c.OfflineReplayEvery = 0 }},
		{"zero kick poll interval", func(c *Config) { c.KickPollEvery = 0 }},
		{"zero probe interval", func(c *Config) { c.NetworkProbeEvery = 0 }},
		{"zero token ttl", func(c *Config) { c.TokenTTL = 0 }},
		{"bad level", func(c *Config) { c.IntegrityLevel = "paranoid" }},
		{"sqlite without path", func(c *Config) { c.LocalDBPath = "" }},
		{"feed without redis", func(c *Config) { c.ProctorFeed = true; c.RedisURL = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			cfg.LocalStore = LocalStoreSQLite
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestStorageKeysAreNamespaced(t *testing.T) {
	scheduleID := uuid.New()
	a := StorageKey.AnswerBackupKey(scheduleID, 7)
	b := StorageKey.AnswerBackupKey(scheduleID, 8)
	if a == b {
		t.Fatal("backup keys must differ per examinee")
	}
	if !StorageKey.IsAnswerBackupKey(a) {
		t.Fatalf("%q should be recognised as a backup key", a)
	}
	if StorageKey.IsAnswerBackupKey(StorageKey.OfflineQueueKey()) {
		t.Fatal("queue key is not a backup key")
	}
}
