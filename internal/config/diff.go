package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TierChanges holds per-tier provider diffs keyed by tier name
	// ("primary", "experimental", "secondary", "embeddings").
	TierChanges []TierDiff

	// TurnChanged is true if any turn pipeline tunable changed.
	TurnChanged bool
	NewTurn     TurnConfig
}

// TierDiff describes what changed for a single backend tier.
type TierDiff struct {
	Tier         string
	ModelChanged bool
	KeysChanged  bool
	URLChanged   bool
}

// HasChanges reports whether the diff records any change at all.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.TurnChanged || len(d.TierChanges) > 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
		d.NewTurn = new.Turn
	}

	if td, changed := diffEntry("primary", old.Providers.Primary, new.Providers.Primary); changed {
		d.TierChanges = append(d.TierChanges, td)
	}
	if td, changed := diffEntry("experimental", old.Providers.Experimental, new.Providers.Experimental); changed {
		d.TierChanges = append(d.TierChanges, td)
	}
	if td, changed := diffEntry("embeddings", old.Providers.Embeddings, new.Providers.Embeddings); changed {
		d.TierChanges = append(d.TierChanges, td)
	}

	oldSec, newSec := old.Providers.Secondary, new.Providers.Secondary
	if oldSec != newSec {
		d.TierChanges = append(d.TierChanges, TierDiff{
			Tier:        "secondary",
			URLChanged:  oldSec.URL != newSec.URL,
			KeysChanged: oldSec.APIKey != newSec.APIKey,
		})
	}

	return d
}

func diffEntry(tier string, old, new ProviderEntry) (TierDiff, bool) {
	td := TierDiff{
		Tier:         tier,
		ModelChanged: old.Name != new.Name || old.Model != new.Model,
		URLChanged:   old.BaseURL != new.BaseURL,
		KeysChanged:  keysDiffer(old, new),
	}
	return td, td.ModelChanged || td.URLChanged || td.KeysChanged
}

func keysDiffer(old, new ProviderEntry) bool {
	oldKeys, newKeys := old.AllKeys(), new.AllKeys()
	if len(oldKeys) != len(newKeys) {
		return true
	}
	for i := range oldKeys {
		if oldKeys[i] != newKeys[i] {
			return true
		}
	}
	return false
}
