package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := loadServerConfig(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "authority.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("expected 15s shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoadServerConfigOverlay(t *testing.T) {
	cfg, err := loadServerConfig(map[string]string{
		"AUTHD_ADDR":                     ":9090",
		"AUTHD_STORE_DRIVER":             "pgx",
		"AUTHD_STORE_DSN":                "postgres://authority@db/authority",
		"AUTHD_REDIS_ADDR":               "redis:6379",
		"AUTHD_KAFKA_BROKERS":            "k1:9092,k2:9092",
		"AUTHD_KAFKA_TOPIC":              "authority.audit",
		"AUTHD_HTTP_TRUST_PROXY_HEADERS": "true",
		"AUTHD_SMTP_HOST":                "smtp.example.com",
		"AUTHD_SMTP_FROM":                "noreply@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Store.Driver != "pgx" || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "authority.audit" {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if !cfg.HTTP.TrustProxyHeaders {
		t.Fatal("expected proxy headers to be trusted")
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("expected default smtp port, got %d", cfg.SMTP.Port)
	}
}

func TestLoadServerConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"admin email alone":  {"AUTHD_ADMIN_EMAIL": "root@example.com"},
		"bad smtp from":      {"AUTHD_SMTP_HOST": "smtp.example.com", "AUTHD_SMTP_FROM": "nope"},
		"malformed duration": {"AUTHD_SHUTDOWN_TIMEOUT": "soon"},
	}
	for name, vars := range cases {
		if _, err := loadServerConfig(vars); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadEngineConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.yaml")
	if err := os.WriteFile(path, []byte("lockout:\n  threshold: 7\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadEngineConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lockout.Threshold != 7 {
		t.Fatalf("expected threshold 7, got %d", cfg.Lockout.Threshold)
	}

	if _, err := loadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}
