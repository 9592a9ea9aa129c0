package config_test

import (
	"testing"

	"github.com/lorekeep/lorekeep/internal/config"
)

func TestReadFlags_Defaults(t *testing.T) {
	f, err := config.ReadFlags()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ExperimentalTier {
		t.Error("ExperimentalTier should default to false")
	}
	if !f.SecondaryTier {
		t.Error("SecondaryTier should default to true")
	}
}

func TestReadFlags_ReadFreshPerCall(t *testing.T) {
	t.Setenv("LOREKEEP_ENABLE_EXPERIMENTAL_TIER", "true")
	f, err := config.ReadFlags()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.ExperimentalTier {
		t.Fatal("ExperimentalTier should be true after setting the env var")
	}

	t.Setenv("LOREKEEP_ENABLE_EXPERIMENTAL_TIER", "false")
	f, err = config.ReadFlags()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ExperimentalTier {
		t.Error("ExperimentalTier should reflect the updated env var without restart")
	}
}
