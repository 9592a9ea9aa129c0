package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/internal/config"
)

func TestValidate_PrimaryRequired(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing primary provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.primary.name") {
		t.Errorf("error should mention providers.primary.name, got: %v", err)
	}
	if !strings.Contains(err.Error(), "providers.primary.model") {
		t.Errorf("error should mention providers.primary.model, got: %v", err)
	}
}

func TestValidate_ExperimentalRequiresModel(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  primary:
    name: openai
    model: gpt-4o
  experimental:
    name: groq
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for experimental tier without model, got nil")
	}
	if !strings.Contains(err.Error(), "providers.experimental.model") {
		t.Errorf("error should mention providers.experimental.model, got: %v", err)
	}
}

func TestValidate_DefaultsApplied(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  primary:
    name: openai
    model: gpt-4o
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Turn.DedupTTL != config.DefaultDedupTTL {
		t.Errorf("DedupTTL = %s, want %s", cfg.Turn.DedupTTL, config.DefaultDedupTTL)
	}
	if cfg.Turn.MemoryTopK != config.DefaultMemoryTopK {
		t.Errorf("MemoryTopK = %d, want %d", cfg.Turn.MemoryTopK, config.DefaultMemoryTopK)
	}
	if cfg.Turn.OracleEveryNTurns != config.DefaultOracleEveryNTurns {
		t.Errorf("OracleEveryNTurns = %d, want %d", cfg.Turn.OracleEveryNTurns, config.DefaultOracleEveryNTurns)
	}
	if cfg.Providers.Secondary.Timeout != config.DefaultSecondaryTimeout {
		t.Errorf("Secondary.Timeout = %s, want %s", cfg.Providers.Secondary.Timeout, config.DefaultSecondaryTimeout)
	}
	if cfg.Rotation.MaxAttempts != config.DefaultMaxAttempts {
		t.Errorf("Rotation.MaxAttempts = %d, want %d", cfg.Rotation.MaxAttempts, config.DefaultMaxAttempts)
	}
}

func TestValidate_ExplicitValuesKept(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  primary:
    name: openai
    model: gpt-4o
turn:
  dedup_ttl: 5s
  memory_top_k: 12
  temperature: 0.4
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Turn.DedupTTL != 5*time.Second {
		t.Errorf("DedupTTL = %s, want 5s", cfg.Turn.DedupTTL)
	}
	if cfg.Turn.MemoryTopK != 12 {
		t.Errorf("MemoryTopK = %d, want 12", cfg.Turn.MemoryTopK)
	}
	if cfg.Turn.Temperature != 0.4 {
		t.Errorf("Temperature = %.2f, want 0.4", cfg.Turn.Temperature)
	}
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  primary:
    name: openai
    model: gpt-4o
turn:
  temperature: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range temperature, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  primary:
    name: openai
    model: gpt-4o
not_a_real_field: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
providers:
  primary:
    name: openai
    model: gpt-4o
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestAllKeys_OrderAndMerge(t *testing.T) {
	t.Parallel()
	entry := config.ProviderEntry{APIKey: "k1", APIKeys: []string{"k2", "k3"}}
	keys := entry.AllKeys()
	if len(keys) != 3 || keys[0] != "k1" || keys[1] != "k2" || keys[2] != "k3" {
		t.Errorf("AllKeys() = %v, want [k1 k2 k3]", keys)
	}
}
