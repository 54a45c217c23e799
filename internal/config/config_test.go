package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.DeviceID != "phone" || cfg.PeerDeviceID != "watch" {
		t.Fatalf("expected default device pair, got %q/%q", cfg.DeviceID, cfg.PeerDeviceID)
	}
	if cfg.KVBackend != "sqlite" {
		t.Fatalf("expected sqlite backend by default, got %q", cfg.KVBackend)
	}
	if cfg.SQLitePath == "" {
		t.Fatalf("expected default sqlite path")
	}
	if !cfg.CaptureAllowed {
		t.Fatalf("expected capture allowed by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("DEVICE_ID", "watch")
	t.Setenv("PEER_DEVICE_ID", "phone")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KV_BACKEND", "postgres")
	t.Setenv("LINK_SECRET", "secret")
	t.Setenv("CAPTURE_ALLOWED", "false")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.DeviceID != "watch" || cfg.PeerDeviceID != "phone" {
		t.Fatalf("expected swapped device pair")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.KVBackend != "postgres" {
		t.Fatalf("expected override backend")
	}
	if cfg.LinkSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.CaptureAllowed {
		t.Fatalf("expected capture disabled")
	}
}
