package config_test

import (
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Primary:   config.ProviderEntry{Name: "openai", Model: "gpt-4o", APIKey: "k1"},
			Secondary: config.SecondaryConfig{URL: "http://crew:8001", Timeout: time.Minute},
		},
		Turn: config.TurnConfig{DedupTTL: 2 * time.Second, MemoryTopK: 8},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_PrimaryModel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.Primary.Model = "gpt-4o-mini"

	d := config.Diff(old, new)
	if len(d.TierChanges) != 1 {
		t.Fatalf("expected 1 tier change, got %d", len(d.TierChanges))
	}
	tc := d.TierChanges[0]
	if tc.Tier != "primary" || !tc.ModelChanged {
		t.Errorf("unexpected tier change: %+v", tc)
	}
}

func TestDiff_KeyRotation(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.Primary.APIKeys = []string{"k2"}

	d := config.Diff(old, new)
	if len(d.TierChanges) != 1 || !d.TierChanges[0].KeysChanged {
		t.Errorf("expected primary KeysChanged, got %+v", d.TierChanges)
	}
	if d.TierChanges[0].ModelChanged {
		t.Error("ModelChanged should be false for a key-only change")
	}
}

func TestDiff_SecondaryURL(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.Secondary.URL = "http://crew:9001"

	d := config.Diff(old, new)
	if len(d.TierChanges) != 1 {
		t.Fatalf("expected 1 tier change, got %d", len(d.TierChanges))
	}
	if d.TierChanges[0].Tier != "secondary" || !d.TierChanges[0].URLChanged {
		t.Errorf("unexpected tier change: %+v", d.TierChanges[0])
	}
}

func TestDiff_TurnTunables(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Turn.MemoryTopK = 16

	d := config.Diff(old, new)
	if !d.TurnChanged {
		t.Fatal("TurnChanged should be true")
	}
	if d.NewTurn.MemoryTopK != 16 {
		t.Errorf("NewTurn.MemoryTopK = %d, want 16", d.NewTurn.MemoryTopK)
	}
}
