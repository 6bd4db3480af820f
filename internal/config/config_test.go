package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppPort != 8080 || cfg.Store != StorePostgres || cfg.StreamTokenTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ObjectStore.Enabled() {
		t.Fatal("archive must be disabled without a bucket")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("YATTEE_PORT", "9000")
	t.Setenv("YATTEE_STORE", "Memory")
	t.Setenv("YATTEE_YTDLP_SKIP_TLS_VERIFY", "true")
	t.Setenv("YATTEE_STREAM_TOKEN_TTL", "30m")
	t.Setenv("YATTEE_S3_BUCKET", "archive")
	t.Setenv("YATTEE_CACHE_MAX_ENTRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppPort != 9000 || cfg.Store != StoreMemory || !cfg.YTDLPSkipTLSVerify || cfg.StreamTokenTTL != 30*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.ObjectStore.Enabled() {
		t.Fatal("expected archive enabled")
	}
	if cfg.CacheMaxEntries != 10000 {
		t.Fatalf("invalid number should fall back, got %d", cfg.CacheMaxEntries)
	}
}

func TestLoadRejectsHalfConfiguredAdmin(t *testing.T) {
	t.Setenv("YATTEE_ADMIN_USERNAME", "admin")
	t.Setenv("YATTEE_STORE", "mysql")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "YATTEE_ADMIN_PASSWORD") || !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}
