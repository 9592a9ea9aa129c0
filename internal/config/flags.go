package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Flags are operational toggles read from the environment on every turn
// rather than once at startup, so a tier can be switched on or off for a
// running server without a restart.
type Flags struct {
	// ExperimentalTier routes turns through the alternate LLM runtime
	// before any other tier. Requires providers.experimental to be set.
	ExperimentalTier bool `env:"LOREKEEP_ENABLE_EXPERIMENTAL_TIER" envDefault:"false"`

	// SecondaryTier routes turns through the multi-agent orchestrator
	// before the primary tier. Requires providers.secondary.url.
	SecondaryTier bool `env:"LOREKEEP_ENABLE_SECONDARY_TIER" envDefault:"true"`
}

// ReadFlags parses the feature flags from the current environment. Call it
// per turn; never cache the result.
func ReadFlags() (Flags, error) {
	var f Flags
	if err := env.Parse(&f); err != nil {
		return Flags{}, fmt.Errorf("config: parse feature flags: %w", err)
	}
	return f, nil
}
