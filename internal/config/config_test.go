package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("USER_STORE", "memory")
	t.Setenv("CODE_SWEEP_INTERVAL", "")
	t.Setenv("SESSION_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CodeSweepInterval != 5*time.Minute {
		t.Fatalf("sweep interval = %v, want 5m", cfg.CodeSweepInterval)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("session ttl = %v, want 168h", cfg.SessionTTL)
	}
	if cfg.UserStore != UserStoreMemory {
		t.Fatalf("user store = %q", cfg.UserStore)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("USER_STORE", "memory")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadRejectsUnknownStores(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("USER_STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown USER_STORE")
	}

	t.Setenv("USER_STORE", "memory")
	t.Setenv("CODE_STORE", "memcached")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown CODE_STORE")
	}
}

func TestParseHelpers(t *testing.T) {
	if !parseBool("'yes'") || parseBool("off") {
		t.Fatal("parseBool mismatch")
	}
	if got := parseDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("parseDuration = %v", got)
	}
	if got := parseDuration("-1s", time.Minute); got != time.Minute {
		t.Fatalf("negative duration should fall back, got %v", got)
	}
	if got := parseList(" 10.0.0.1, ,10.0.0.0/8 "); len(got) != 2 {
		t.Fatalf("parseList = %v", got)
	}
	if got := parseInt("x", 7); got != 7 {
		t.Fatalf("parseInt fallback = %d", got)
	}
}
