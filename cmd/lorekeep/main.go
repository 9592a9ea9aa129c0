// Command lorekeep is the main entry point for the Lorekeep narrative turn
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lorekeep/lorekeep/internal/combat"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/health"
	"github.com/lorekeep/lorekeep/internal/monitor"
	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/oracle"
	"github.com/lorekeep/lorekeep/internal/postprocess"
	"github.com/lorekeep/lorekeep/internal/prompt"
	"github.com/lorekeep/lorekeep/internal/rotation"
	"github.com/lorekeep/lorekeep/internal/router"
	"github.com/lorekeep/lorekeep/internal/server"
	"github.com/lorekeep/lorekeep/internal/turn"
	"github.com/lorekeep/lorekeep/internal/voice"
	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/memory/memstore"
	"github.com/lorekeep/lorekeep/pkg/memory/postgres"
	"github.com/lorekeep/lorekeep/pkg/provider/embeddings"
	oaembed "github.com/lorekeep/lorekeep/pkg/provider/embeddings/openai"
	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	"github.com/lorekeep/lorekeep/pkg/provider/llm/anyllm"
	oainative "github.com/lorekeep/lorekeep/pkg/provider/llm/openai"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

// store is the full persistence surface the pipeline needs. Both the
// Postgres and the in-memory implementation satisfy it.
type store interface {
	memory.MessageStore
	memory.MemoryStore
	memory.WorldStore
	memory.VoiceStore
	memory.OutcomeStore
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lorekeep: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lorekeep: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lorekeep starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lorekeep",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Persistence ───────────────────────────────────────────────────────────
	st, dbCheck, closeStore, err := buildStore(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Turn pipeline ─────────────────────────────────────────────────────────
	svc, err := buildPipeline(cfg, reg, st)
	if err != nil {
		slog.Error("failed to build turn pipeline", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, onConfigChange)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	checkers := []health.Checker{
		{Name: "database", Check: dbCheck},
	}

	opts := []server.Option{server.WithVersion(version)}
	if tls := cfg.Server.TLS; tls != nil {
		opts = append(opts, server.WithTLS(tls.CertFile, tls.KeyFile))
	}
	srv := server.New(cfg.Server.ListenAddr, svc, checkers, opts...)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmProviderNames lists the LLM backends that ship with lorekeep. All share
// the any-llm construction pattern: optional APIKey + optional BaseURL.
var llmProviderNames = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "openrouter",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range llmProviderNames {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai-native talks to the OpenAI API directly through openai-go instead
	// of the any-llm shim. Useful when base_url points at an OpenAI-compatible
	// server that the shim mishandles.
	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oainative.Option
		if entry.BaseURL != "" {
			opts = append(opts, oainative.WithBaseURL(entry.BaseURL))
		}
		return oainative.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildStore creates the Postgres store when a DSN is configured, or an
// in-memory store otherwise. It returns the store, a readiness check, and a
// close function.
func buildStore(ctx context.Context, cfg *config.Config, reg *config.Registry) (store, func(context.Context) error, func(), error) {
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured — using in-memory store; state will not survive restarts")
		s := memstore.New()
		return s, func(context.Context) error { return nil }, func() {}, nil
	}

	var opts []postgres.Option
	if name := cfg.Providers.Embeddings.Name; name != "" {
		emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — semantic ranking disabled", "name", name)
		} else if err != nil {
			return nil, nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			opts = append(opts, postgres.WithEmbeddings(emb))
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	s, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("connected to postgres")
	return s, s.Ping, s.Close, nil
}

// buildPipeline assembles the full turn generation stack: prompt assembler,
// backend tiers, fallback router, oracle, voice resolver, post-processing
// coordinator, and the turn service.
func buildPipeline(cfg *config.Config, reg *config.Registry, st store) (*turn.Service, error) {
	assembler := prompt.NewAssembler(st, combat.KeywordDetector{},
		prompt.WithTopK(cfg.Turn.MemoryTopK))

	newExecutor := func(keys []string) *rotation.Executor {
		return rotation.New(keys,
			rotation.WithMaxAttempts(cfg.Rotation.MaxAttempts),
			rotation.WithBaseBackoff(cfg.Rotation.BaseBackoff))
	}

	primaryKeys := cfg.Providers.Primary.AllKeys()
	primary := router.NewModelTier(types.TierPrimary, primaryKeys,
		tierFactory(reg, cfg.Providers.Primary), assembler,
		router.WithSampling(cfg.Turn.Temperature, cfg.Turn.MaxTokens),
		router.WithExecutor(newExecutor(primaryKeys)))

	var experimental router.Tier
	if cfg.Providers.Experimental.Name != "" {
		keys := cfg.Providers.Experimental.AllKeys()
		experimental = router.NewModelTier(types.TierExperimental, keys,
			tierFactory(reg, cfg.Providers.Experimental), assembler,
			router.WithSampling(cfg.Turn.Temperature, cfg.Turn.MaxTokens),
			router.WithExecutor(newExecutor(keys)))
		slog.Info("experimental tier configured", "provider", cfg.Providers.Experimental.Name)
	}

	var secondary router.Tier
	if cfg.Providers.Secondary.URL != "" {
		secondary = router.NewSecondaryTier(cfg.Providers.Secondary.URL,
			cfg.Providers.Secondary.APIKey, cfg.Providers.Secondary.Timeout)
		slog.Info("secondary tier configured", "url", cfg.Providers.Secondary.URL)
	}

	mon := monitor.New(nil, monitor.WithSink(st))
	rtr := router.New(experimental, secondary, primary, mon)

	postOpts := []postprocess.Option{
		postprocess.WithVoices(voice.NewResolver(st)),
		postprocess.WithOracleCadence(cfg.Turn.OracleEveryNTurns),
	}
	oracleProvider, err := reg.CreateLLM(cfg.Providers.Primary)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("primary provider not registered — oracle extraction disabled",
			"name", cfg.Providers.Primary.Name)
	} else if err != nil {
		return nil, fmt.Errorf("create oracle provider %q: %w", cfg.Providers.Primary.Name, err)
	} else {
		postOpts = append(postOpts, postprocess.WithOracle(oracle.New(oracleProvider)))
	}
	post := postprocess.New(st, st, postOpts...)

	return turn.New(rtr, st, post, turn.WithDedupTTL(cfg.Turn.DedupTTL)), nil
}

// tierFactory adapts a registry entry into a per-key provider factory so the
// rotation executor can rebuild the provider for each key it tries.
func tierFactory(reg *config.Registry, entry config.ProviderEntry) router.ProviderFactory {
	return func(apiKey string) (llm.Provider, error) {
		e := entry
		if apiKey != "" {
			e.APIKey = apiKey
		}
		return reg.CreateLLM(e)
	}
}

// onConfigChange reacts to config file rewrites. The log level is applied
// live; tier and turn changes need a restart, and the log makes that explicit
// instead of silently ignoring the edit.
func onConfigChange(old, new *config.Config) {
	diff := config.Diff(old, new)
	if !diff.HasChanges() {
		return
	}
	if diff.LogLevelChanged {
		slog.SetDefault(newLogger(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	for _, td := range diff.TierChanges {
		slog.Warn("provider config changed on disk — restart to apply",
			"tier", td.Tier,
			"model_changed", td.ModelChanged,
			"keys_changed", td.KeysChanged,
			"url_changed", td.URLChanged)
	}
	if diff.TurnChanged {
		slog.Warn("turn tunables changed on disk — restart to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lorekeep — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Primary", cfg.Providers.Primary.Name, cfg.Providers.Primary.Model)
	printProvider("Experimental", cfg.Providers.Experimental.Name, cfg.Providers.Experimental.Model)
	printProvider("Secondary", cfg.Providers.Secondary.URL, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Store           : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Store           : %-19s ║\n", "in-memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
