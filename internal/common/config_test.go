package common

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.TTL != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %s", cfg.Storage.TTL)
	}
	if cfg.Storage.EvictionInterval != time.Hour {
		t.Fatalf("expected hourly eviction, got %s", cfg.Storage.EvictionInterval)
	}
	if cfg.Pipeline.AutoCreateMinConfidence != 0.80 {
		t.Fatalf("expected 0.80 auto-create threshold, got %v", cfg.Pipeline.AutoCreateMinConfidence)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_URL", "file:test.db")
	t.Setenv("RECEIPT_TTL", "2h")
	t.Setenv("OWNER_LOCK_ENABLED", "true")
	t.Setenv("OPENAI_FALLBACK_MODEL", "gpt-backup")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN != "file:test.db" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Storage.TTL != 2*time.Hour {
		t.Fatalf("unexpected ttl %s", cfg.Storage.TTL)
	}
	if !cfg.Pipeline.OwnerLockEnabled {
		t.Fatalf("expected owner lock enabled")
	}
	if cfg.LLM.FallbackModel != "gpt-backup" {
		t.Fatalf("unexpected fallback model %q", cfg.LLM.FallbackModel)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Pipeline.AutoCreateMinConfidence = 1.5
	err = cfg.Validate()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	cfg.Pipeline.AutoCreateMinConfidence = 0.8
	cfg.Blob.Endpoint = "localhost:9000"
	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected blob offload without database to be rejected")
	}
}
