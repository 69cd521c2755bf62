package config

import (
	"strings"
	"testing"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.65")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.65 {
		t.Fatalf("expected 0.65, got %v", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "high")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-float value, got nil")
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StrongConfidence != 0.7 || cfg.MediumConfidence != 0.5 {
		t.Fatalf("unexpected routing defaults: %v / %v", cfg.StrongConfidence, cfg.MediumConfidence)
	}
	if cfg.GateFetchK != 24 || cfg.GateTopK != 8 || cfg.GateMinHits != 3 {
		t.Fatalf("unexpected gate defaults: %+v", cfg)
	}
	if cfg.GateLambda != 0.7 || cfg.GateScoreThreshold != 0.5 {
		t.Fatalf("unexpected gate defaults: %+v", cfg)
	}
}

func TestLoadCollectsMultipleInvalid(t *testing.T) {
	t.Setenv("MADOGUCHI_PORT", "abc")
	t.Setenv("MADOGUCHI_GATE_TOP_K", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "MADOGUCHI_PORT") {
		t.Fatalf("error should mention MADOGUCHI_PORT, got: %s", got)
	}
	if !strings.Contains(got, "MADOGUCHI_GATE_TOP_K") {
		t.Fatalf("error should mention MADOGUCHI_GATE_TOP_K, got: %s", got)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("MADOGUCHI_MEDIUM_CONFIDENCE", "0.9") // above strong (0.7)
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject medium > strong")
	}
}

func TestValidateRejectsFetchKBelowTopK(t *testing.T) {
	t.Setenv("MADOGUCHI_GATE_FETCH_K", "4") // below default top_k of 8
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject fetch_k < top_k")
	}
}
