package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.OrderStreamGroup != "g1" {
		t.Errorf("expected default group g1, got %s", cfg.OrderStreamGroup)
	}
	if cfg.CacheNullTTL != 2*time.Minute {
		t.Errorf("expected default null ttl 2m, got %v", cfg.CacheNullTTL)
	}
	if len(cfg.KafkaBrokers) == 0 {
		t.Error("expected at least one kafka broker")
	}
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("BUY_RATE_LIMIT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid BUY_RATE_LIMIT")
	}
}

func TestLoad_RejectsNonPositive(t *testing.T) {
	t.Setenv("CACHE_NULL_TTL_SEC", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for zero CACHE_NULL_TTL_SEC")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("LOCK_TTL_SEC", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Errorf("expected lock ttl 30s, got %v", cfg.LockTTL)
	}
}
