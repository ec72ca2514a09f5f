package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
host: 127.0.0.1
port: 9999
timeout: 3s
connect_attempts: 5
backoff_base: 250ms
cache:
  dir: /tmp/hb-cache
  ttl: 24h
sandbox:
  timeout: 2s
  max_calls: 4
  window_seconds: 30
services:
  polyhaven:
    failure_threshold: 5
    recovery_timeout: 60s
  hyper3d:
    failure_threshold: 3
    recovery_timeout: 120s
adapters:
  - type: webhook
    url: https://example.com/hook
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr() != "127.0.0.1:9999" {
		t.Errorf("Addr = %q, want 127.0.0.1:9999", cfg.Addr())
	}
	if cfg.Timeout.Duration != 3*time.Second {
		t.Errorf("Timeout = %s, want 3s", cfg.Timeout.Duration)
	}
	if cfg.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", cfg.Attempts)
	}
	if cfg.Backoff.Duration != 250*time.Millisecond {
		t.Errorf("Backoff = %s, want 250ms", cfg.Backoff.Duration)
	}
	if cfg.Cache.TTL.Duration != 24*time.Hour {
		t.Errorf("Cache.TTL = %s, want 24h", cfg.Cache.TTL.Duration)
	}
	if got := cfg.Services["hyper3d"].RecoveryTimeout.Duration; got != 120*time.Second {
		t.Errorf("hyper3d recovery = %s, want 120s", got)
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0].Type != "webhook" {
		t.Errorf("Adapters = %+v, want one webhook", cfg.Adapters)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr() != "localhost:9876" {
		t.Errorf("Addr = %q, want localhost:9876", cfg.Addr())
	}
	if cfg.Timeout.Duration != DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", cfg.Timeout.Duration, DefaultTimeout)
	}
	if cfg.Attempts != DefaultConnectAttempts {
		t.Errorf("Attempts = %d, want %d", cfg.Attempts, DefaultConnectAttempts)
	}
	if cfg.Cache.TTL.Duration != DefaultCacheTTL {
		t.Errorf("Cache TTL = %s, want %s", cfg.Cache.TTL.Duration, DefaultCacheTTL)
	}
	if cfg.Sandbox.MaxCalls != DefaultMaxCalls {
		t.Errorf("Sandbox.MaxCalls = %d, want %d", cfg.Sandbox.MaxCalls, DefaultMaxCalls)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "port: 9999\n")
	t.Setenv(EnvPort, "7777")
	t.Setenv(EnvAttempts, "9")
	t.Setenv(EnvBackoffBase, "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("Port = %d, env should override file", cfg.Port)
	}
	if cfg.Attempts != 9 {
		t.Errorf("Attempts = %d, want 9", cfg.Attempts)
	}
	if cfg.Backoff.Duration != 2*time.Second {
		t.Errorf("Backoff = %s, want 2s", cfg.Backoff.Duration)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	path := writeConfig(t, "{}\n")
	t.Setenv(EnvPort, "not-a-port")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid port env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "timeout: banana\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestServiceNames_Deterministic(t *testing.T) {
	cfg := Config{Services: map[string]ServiceConfig{
		"sketchfab": {}, "hyper3d": {}, "polyhaven": {},
	}}
	names := cfg.ServiceNames()
	want := []string{"hyper3d", "polyhaven", "sketchfab"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ServiceNames = %v, want %v", names, want)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HB_TEST_TOKEN", "sekrit")
	tests := []struct {
		in   string
		want string
	}{
		{"url: ${HB_TEST_TOKEN}", "url: sekrit"},
		{"url: ${HB_TEST_UNSET}", "url: "},
		{"url: ${HB_TEST_UNSET:-fallback}", "url: fallback"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
