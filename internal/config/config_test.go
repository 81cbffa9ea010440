package config

import (
	"testing"
	"time"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_RequiresDatabaseURLForPostgres(t *testing.T) {
	if _, err := Load(mapEnv(nil)); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoad_MemoryDriverDefaults(t *testing.T) {
	cfg, err := Load(mapEnv(map[string]string{"STORE_DRIVER": "memory"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "18911" {
		t.Fatalf("expected default port 18911, got %q", cfg.Port)
	}
	if cfg.TriggerInterval != time.Minute || cfg.TriggerLookback != 5*time.Minute {
		t.Fatalf("unexpected trigger defaults: %s %s", cfg.TriggerInterval, cfg.TriggerLookback)
	}
	if cfg.QueueMaxRetries != 3 || cfg.QueueBaseDelay != 5*time.Second {
		t.Fatalf("unexpected queue defaults: %d %s", cfg.QueueMaxRetries, cfg.QueueBaseDelay)
	}
	if cfg.NotificationTTL != 30*24*time.Hour {
		t.Fatalf("expected 30d TTL, got %s", cfg.NotificationTTL)
	}
	if cfg.CleanupSchedule != "@every 1h" {
		t.Fatalf("unexpected cleanup schedule %q", cfg.CleanupSchedule)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(mapEnv(map[string]string{
		"DATABASE_URL":              "postgres://example",
		"PORT":                      "12345",
		"PUBLISH_TRIGGER_INTERVAL":  "30",
		"PUBLISH_TRIGGER_LOOKBACK":  "15m",
		"CAPTION_QUEUE_MAX_RETRIES": "5",
		"PUBLISH_TRIGGER_ENABLED":   "false",
		"CORS_ALLOWED_ORIGINS":      "https://a.test, https://b.test",
		"DEFAULT_TIMEZONE":          "America/New_York",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "12345" {
		t.Fatalf("expected port 12345, got %q", cfg.Port)
	}
	if cfg.TriggerInterval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.TriggerInterval)
	}
	if cfg.TriggerLookback != 15*time.Minute {
		t.Fatalf("expected 15m lookback, got %s", cfg.TriggerLookback)
	}
	if cfg.QueueMaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.QueueMaxRetries)
	}
	if cfg.TriggerEnabled {
		t.Fatalf("expected trigger disabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	cfg, err := Load(mapEnv(map[string]string{
		"STORE_DRIVER":             "memory",
		"PUBLISH_TRIGGER_INTERVAL": "-1",
		"CAPTION_QUEUE_BASE_DELAY": "abc",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TriggerInterval != time.Minute {
		t.Fatalf("expected default on -1, got %s", cfg.TriggerInterval)
	}
	if cfg.QueueBaseDelay != 5*time.Second {
		t.Fatalf("expected default on non-duration, got %s", cfg.QueueBaseDelay)
	}
}

func TestLoad_InvalidDriverAndTimezone(t *testing.T) {
	if _, err := Load(mapEnv(map[string]string{"STORE_DRIVER": "sqlite"})); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Load(mapEnv(map[string]string{"STORE_DRIVER": "memory", "DEFAULT_TIMEZONE": "Mars/Base"})); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
