package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "openai-native", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "openrouter"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset tunables. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Primary tier is the last resort and must exist.
	if cfg.Providers.Primary.Name == "" {
		errs = append(errs, errors.New("providers.primary.name is required"))
	}
	if cfg.Providers.Primary.Model == "" {
		errs = append(errs, errors.New("providers.primary.model is required"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.Primary.Name)
	validateProviderName("llm", cfg.Providers.Experimental.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.Experimental.Name != "" && cfg.Providers.Experimental.Model == "" {
		errs = append(errs, errors.New("providers.experimental.model is required when providers.experimental.name is set"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; using in-memory store, state will not survive restarts")
	}

	// Tunable ranges and defaults
	if cfg.Turn.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("turn.dedup_ttl %s must not be negative", cfg.Turn.DedupTTL))
	}
	if cfg.Turn.DedupTTL == 0 {
		cfg.Turn.DedupTTL = DefaultDedupTTL
	}
	if cfg.Turn.MemoryTopK < 0 {
		errs = append(errs, fmt.Errorf("turn.memory_top_k %d must not be negative", cfg.Turn.MemoryTopK))
	}
	if cfg.Turn.MemoryTopK == 0 {
		cfg.Turn.MemoryTopK = DefaultMemoryTopK
	}
	if cfg.Turn.MaxTokens == 0 {
		cfg.Turn.MaxTokens = DefaultMaxTokens
	}
	if cfg.Turn.Temperature == 0 {
		cfg.Turn.Temperature = DefaultTemperature
	}
	if cfg.Turn.Temperature < 0 || cfg.Turn.Temperature > 2 {
		errs = append(errs, fmt.Errorf("turn.temperature %.2f is out of range [0, 2]", cfg.Turn.Temperature))
	}
	if cfg.Turn.OracleEveryNTurns == 0 {
		cfg.Turn.OracleEveryNTurns = DefaultOracleEveryNTurns
	}
	if cfg.Turn.OracleEveryNTurns < 1 {
		errs = append(errs, fmt.Errorf("turn.oracle_every_n_turns %d must be at least 1", cfg.Turn.OracleEveryNTurns))
	}
	if cfg.Providers.Secondary.Timeout == 0 {
		cfg.Providers.Secondary.Timeout = DefaultSecondaryTimeout
	}
	if cfg.Rotation.MaxAttempts == 0 {
		cfg.Rotation.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Rotation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("rotation.max_attempts %d must be at least 1", cfg.Rotation.MaxAttempts))
	}
	if cfg.Rotation.BaseBackoff == 0 {
		cfg.Rotation.BaseBackoff = DefaultBaseBackoff
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
