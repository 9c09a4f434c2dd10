package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ProcessBasePort != 8081 {
		t.Fatalf("expected derived base port 8081, got %d", cfg.ProcessBasePort)
	}
	if cfg.InstallTimeout != 120*time.Second {
		t.Fatalf("expected default install timeout 120s, got %v", cfg.InstallTimeout)
	}
}

func TestLoadStringSlice(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CORS_ORIGIN", "https://a.example.com, https://b.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %d: %v", len(cfg.AllowedOrigins), cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("unexpected first origin: %s", cfg.AllowedOrigins[0])
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PROCESS_MAX_PORTS", "5")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProcessMaxPorts != 5 {
		t.Fatalf("expected overridden max ports 5, got %d", cfg.ProcessMaxPorts)
	}

	os.Unsetenv("PROCESS_MAX_PORTS")
}
