// Package config provides the configuration schema, loader, provider
// registry, and per-call feature flags for the lorekeep server.
package config

import "time"

// LogLevel controls log verbosity for the lorekeep server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for lorekeep.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
	Turn      TurnConfig      `yaml:"turn"`
	Rotation  RotationConfig  `yaml:"rotation"`
}

// ServerConfig holds network and logging settings for the lorekeep server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the narrative backends in escalation order:
// experimental and secondary are optional and gated by runtime feature
// flags; primary is the mandatory last-resort tier.
type ProvidersConfig struct {
	// Primary is the direct LLM tier. Required.
	Primary ProviderEntry `yaml:"primary"`

	// Experimental is an alternate LLM runtime tried first when the
	// experimental feature flag is enabled. Optional.
	Experimental ProviderEntry `yaml:"experimental"`

	// Secondary is the multi-agent orchestrator service tried before the
	// primary tier when its feature flag is enabled. Optional.
	Secondary SecondaryConfig `yaml:"secondary"`

	// Embeddings enables semantic memory ranking. Optional; without it
	// memory retrieval falls back to importance/recency ordering.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by LLM and
// embeddings providers. The Name field selects the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// APIKeys lists additional keys rotated through on retryable failures.
	// APIKey is implicitly the first key when both are set.
	APIKeys []string `yaml:"api_keys"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// SecondaryConfig describes the HTTP orchestrator service used as the
// secondary narrative tier.
type SecondaryConfig struct {
	// URL is the orchestrator's base URL (e.g., "http://crew:8001").
	URL string `yaml:"url"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single orchestrator request. Defaults to 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig holds settings for the persistence layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// store. When empty, an in-memory store is used and state does not
	// survive restarts.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension used for the embeddings
	// column. Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// TurnConfig tunes the turn generation pipeline.
type TurnConfig struct {
	// DedupTTL is how long a completed turn result is replayed for
	// identical requests. Defaults to 2s.
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// MemoryTopK is how many extracted memories are injected into the
	// prompt. Defaults to 8.
	MemoryTopK int `yaml:"memory_top_k"`

	// MaxTokens caps the primary tier's completion length. Defaults to 2048.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature for the primary tier. Defaults to 0.8.
	Temperature float64 `yaml:"temperature"`

	// OracleEveryNTurns is the free-plan extraction cadence: memory and
	// world extraction run only when the turn count is a multiple of this.
	// Paid plans extract every turn. Defaults to 3.
	OracleEveryNTurns int `yaml:"oracle_every_n_turns"`
}

// RotationConfig tunes the retry/key-rotation executor wrapped around
// provider calls.
type RotationConfig struct {
	// MaxAttempts caps attempts per provider call. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the initial retry delay, doubled per attempt.
	// Defaults to 500ms.
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// Defaults applied by [Validate] for unset tunables.
const (
	DefaultDedupTTL          = 2 * time.Second
	DefaultMemoryTopK        = 8
	DefaultMaxTokens         = 2048
	DefaultTemperature       = 0.8
	DefaultOracleEveryNTurns = 3
	DefaultSecondaryTimeout  = 60 * time.Second
	DefaultMaxAttempts       = 3
	DefaultBaseBackoff       = 500 * time.Millisecond
)

// AllKeys returns the full rotation list for the entry: APIKey first when
// set, followed by APIKeys.
func (p ProviderEntry) AllKeys() []string {
	var keys []string
	if p.APIKey != "" {
		keys = append(keys, p.APIKey)
	}
	return append(keys, p.APIKeys...)
}
