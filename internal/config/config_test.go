package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	for _, key := range []string{"PORT", "ARENA_ADDR", "DATABASE_URL", "TICK_RATE", "MAP_RADIUS", "LOBBY_WAIT"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.TickRate != 30 || cfg.MapRadius != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LobbyWait != 60*time.Second {
		t.Fatalf("expected 60s lobby wait, got %v", cfg.LobbyWait)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty DATABASE_URL by default, got %q", cfg.DatabaseURL)
	}
}

func TestLoadFromEnvRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected an error for missing JWT_SECRET")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("TICK_RATE", "60")
	t.Setenv("MAP_RADIUS", "500")
	t.Setenv("ENABLE_PPROF_TRACE", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected PORT to win, got %q", cfg.Addr)
	}
	if cfg.TickRate != 60 || cfg.MapRadius != 500 || !cfg.EnablePprofTrace {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadFromEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TICK_RATE", "fast")
	t.Setenv("MAP_RADIUS", "wide")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickRate != 30 || cfg.MapRadius != 1000 {
		t.Fatalf("expected malformed values to fall back to defaults, got %+v", cfg)
	}
}
