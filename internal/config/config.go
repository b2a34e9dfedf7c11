// Package config loads the server's runtime configuration from the
// environment with typed defaults. Money and physics constants are code,
// not configuration; only deployment-varying knobs live here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything cmd/server needs to assemble the process.
type Config struct {
	Addr        string
	DatabaseURL string // empty runs the in-memory ledger and repository
	RedisURL    string // reserved for the queue collaborator; unused by core
	JWTSecret   string
	TickRate    int     // ticks per second, from TICK_RATE; validated but not applied: the simulation always runs at physics.TickRate
	MapRadius   float64 // world radius in simulation units
	LobbyWait   time.Duration

	EnablePprofTrace bool
}

// LoadFromEnv reads the environment. Only JWT_SECRET is required; a missing
// DATABASE_URL selects the in-memory stores.
func LoadFromEnv() (Config, error) {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("ARENA_ADDR", ":8080")
	}

	cfg := Config{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:        strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TickRate:         envIntDefault("TICK_RATE", 30),
		MapRadius:        envFloatDefault("MAP_RADIUS", 1000),
		LobbyWait:        envDurationDefault("LOBBY_WAIT", 60*time.Second),
		EnablePprofTrace: envBoolDefault("ENABLE_PPROF_TRACE", false),
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TickRate <= 0 {
		return cfg, fmt.Errorf("TICK_RATE must be positive, got %d", cfg.TickRate)
	}
	if cfg.MapRadius <= 0 {
		return cfg, fmt.Errorf("MAP_RADIUS must be positive, got %v", cfg.MapRadius)
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
