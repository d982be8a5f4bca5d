package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.CookieName != "repairdesk_sid" || cfg.Session.FallbackTTL != 24*time.Hour {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Desk.PageSize != 10 || cfg.Desk.BannerTimeout != 5*time.Second {
		t.Errorf("desk = %+v", cfg.Desk)
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled without DB_HOST")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://records.internal:4000")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://records.internal:4000" {
		t.Errorf("backend = %q", cfg.Backend.BaseURL)
	}
	if !cfg.Database.Enabled() {
		t.Error("database should be enabled")
	}
	if cfg.Redis.Addr() != "127.0.0.1:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr())
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("REPAIRDESK_TEST_KEY", "")
	if got := GetEnvOrDefault("REPAIRDESK_TEST_KEY", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
	t.Setenv("REPAIRDESK_TEST_KEY", "set")
	if got := GetEnvOrDefault("REPAIRDESK_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("got %q", got)
	}
}
