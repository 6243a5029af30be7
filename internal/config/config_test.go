package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port == "" {
		t.Fatal("expected default port")
	}
	if cfg.SweepGrace != 30*time.Minute {
		t.Fatalf("expected default sweep grace 30m, got %v", cfg.SweepGrace)
	}
	if cfg.SweepSessionGrace <= cfg.SweepGrace {
		t.Fatalf("session grace %v should exceed default grace %v", cfg.SweepSessionGrace, cfg.SweepGrace)
	}
	if cfg.SweepBatchSize <= 0 {
		t.Fatalf("expected positive sweep batch size, got %d", cfg.SweepBatchSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("SWEEP_GRACE_MINUTES", "45")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
	if cfg.SweepGrace != 45*time.Minute {
		t.Errorf("expected sweep grace 45m, got %v", cfg.SweepGrace)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("expected sweep interval 1m, got %v", cfg.SweepInterval)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.AllowedOrigins)
	}
}

func TestParseFallbacks(t *testing.T) {
	t.Setenv("SWEEP_GRACE_MINUTES", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "garbage")

	cfg := Load()

	if cfg.SweepGrace != 30*time.Minute {
		t.Errorf("expected fallback grace 30m, got %v", cfg.SweepGrace)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("expected fallback interval 5m, got %v", cfg.SweepInterval)
	}
}
