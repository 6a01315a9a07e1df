// Command taleweaver is the terminal D&D campaign manager.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/taleweaver/internal/assembler"
	"github.com/MrWong99/taleweaver/internal/campaign"
	"github.com/MrWong99/taleweaver/internal/config"
	"github.com/MrWong99/taleweaver/internal/health"
	"github.com/MrWong99/taleweaver/internal/narrator"
	"github.com/MrWong99/taleweaver/internal/observe"
	"github.com/MrWong99/taleweaver/internal/resilience"
	"github.com/MrWong99/taleweaver/internal/session"
	"github.com/MrWong99/taleweaver/internal/store"
	storepg "github.com/MrWong99/taleweaver/internal/store/postgres"
	"github.com/MrWong99/taleweaver/pkg/memory"
	"github.com/MrWong99/taleweaver/pkg/memory/memindex"
	memorypg "github.com/MrWong99/taleweaver/pkg/memory/postgres"
	"github.com/MrWong99/taleweaver/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/taleweaver/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/taleweaver/pkg/provider/embeddings/openai"
	"github.com/MrWong99/taleweaver/pkg/provider/llm"
	"github.com/MrWong99/taleweaver/pkg/provider/llm/anyllm"
	ollamallm "github.com/MrWong99/taleweaver/pkg/provider/llm/ollama"
	oallm "github.com/MrWong99/taleweaver/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "taleweaver: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "taleweaver: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("taleweaver starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"persistent", cfg.Database.PostgresDSN != "",
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if err := checkLocalModels(ctx, providers); err != nil {
		slog.Error("provider health check failed", "err", err)
		return 1
	}

	if err := checkEmbeddingDimensions(cfg.Database.EmbeddingDimensions, providers.Embeddings); err != nil {
		slog.Error("embedding provider misconfigured", "err", err, "model", cfg.Providers.Embeddings.Model)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	var (
		st    store.Store
		index memory.SemanticIndex
	)
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pgStore, err := storepg.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open structured store", "err", err)
			return 1
		}
		defer pgStore.Close()

		pgIndex, err := memorypg.NewIndex(ctx, dsn, providers.Embeddings)
		if err != nil {
			slog.Error("failed to open semantic index", "err", err)
			return 1
		}
		defer pgIndex.Close()

		st, index = pgStore, pgIndex
		slog.Info("postgres stores ready")
	} else {
		st = store.NewMemStore()
		index = memindex.NewIndex(providers.Embeddings)
		slog.Warn("no postgres_dsn configured, using in-memory stores; nothing survives a restart")
	}

	// ── Retention purge ───────────────────────────────────────────────────────
	if age := cfg.Memory.Retention.Std(); age > 0 {
		if n, err := index.PurgeOlderThan(ctx, age); err != nil {
			slog.Warn("memory purge failed", "err", err)
		} else if n > 0 {
			slog.Info("purged expired memory fragments", "count", n, "age", age)
		}
		if n, err := st.CleanupOlderThan(ctx, age); err != nil {
			slog.Warn("session cleanup failed", "err", err)
		} else if n > 0 {
			slog.Info("removed expired sessions", "count", n, "age", age)
		}
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "taleweaver"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	var metricsSrv *http.Server
	if addr := cfg.Server.MetricsAddr; addr != "" {
		metricsSrv = newDiagnosticsServer(addr, st, providers.primary)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics server error", "err", err)
			}
		}()
		slog.Info("diagnostics endpoint listening", "addr", addr)
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	asm := assembler.New(index, st,
		assembler.WithTopK(cfg.Memory.TopK),
		assembler.WithRecentLimit(cfg.Memory.RecentLimit),
	)
	gateway := narrator.New(providers.LLM,
		narrator.WithTemperature(cfg.Generation.Temperature),
		narrator.WithMaxTokens(cfg.Generation.MaxTokens),
		narrator.WithTimeout(cfg.Generation.Timeout.Std()),
	)
	orch := session.New(st, index, asm, gateway,
		session.WithShortTermCap(cfg.Memory.ShortTermCap),
		session.WithPromptBudget(cfg.Memory.PromptBudget),
		session.WithSummariser(session.NewLLMSummariser(providers.LLM)),
	)
	importer := campaign.NewImporter(st, index)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	r := newREPL(orch, st, importer, os.Stdin, os.Stdout)
	if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if orch.Active() {
		if err := orch.EndSession(shutdownCtx); err != nil {
			slog.Warn("failed to end session on shutdown", "err", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("diagnostics server shutdown error", "err", err)
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds the instantiated external services the pipeline runs on.
type providerSet struct {
	// LLM is the narrative generation provider, possibly wrapped in a
	// fallback chain.
	LLM llm.Provider

	// Embeddings computes fragment vectors for the semantic index.
	Embeddings embeddings.Provider

	// primary is the unwrapped primary LLM, kept for liveness probes that
	// the instrumentation and fallback wrappers would otherwise hide.
	primary llm.Provider

	// local lists providers backed by a local Ollama server, for the
	// startup health check.
	local []*ollamallm.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted APIs behind any-llm share the same pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
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

	// openai uses the native openai-go client.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; the native client also exposes model
	// management so missing models can be pulled at startup.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []ollamallm.Option
		if window := optInt(entry.Options, "context_window"); window > 0 {
			opts = append(opts, ollamallm.WithContextWindow(window))
		}
		return ollamallm.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
// The primary LLM and the embeddings provider are required; configured
// fallback LLMs are chained behind the primary with per-provider circuit
// breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	metrics := observe.DefaultMetrics()

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.primary = primary
	ps.LLM = observe.InstrumentLLM(primary, cfg.Providers.LLM.Name, metrics)
	if local, ok := primary.(*ollamallm.Provider); ok {
		ps.local = append(ps.local, local)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	if len(cfg.Providers.Fallbacks) > 0 {
		chain := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.Fallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create fallback llm provider %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, observe.InstrumentLLM(p, entry.Name, metrics))
			if local, ok := p.(*ollamallm.Provider); ok {
				ps.local = append(ps.local, local)
			}
			slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
		}
		ps.LLM = chain
	}

	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = observe.InstrumentEmbedder(emb, cfg.Providers.Embeddings.Name, metrics)
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model)

	return ps, nil
}

// checkLocalModels verifies every Ollama-backed LLM is reachable and has its
// model available, pulling it when missing.
func checkLocalModels(ctx context.Context, ps *providerSet) error {
	for _, p := range ps.local {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ollama unreachable: %w", err)
		}
		ok, err := p.HasModel(ctx)
		if err != nil {
			return fmt.Errorf("list ollama models: %w", err)
		}
		if ok {
			continue
		}
		slog.Info("pulling missing ollama model", "model", p.ModelID())
		err = p.Pull(ctx, func(status string, completed, total int64) {
			if total > 0 {
				slog.Info("pull progress", "model", p.ModelID(), "status", status,
					"percent", completed*100/total)
			}
		})
		if err != nil {
			return fmt.Errorf("pull ollama model %q: %w", p.ModelID(), err)
		}
	}
	return nil
}

// checkEmbeddingDimensions guards an explicitly configured vector dimension
// against the one the provider reports. A mismatch would silently corrupt
// nearest-neighbour search over an existing pgvector column, so it is a
// startup failure rather than a warning. Zero skips the check.
func checkEmbeddingDimensions(configured int, emb embeddings.Provider) error {
	if configured > 0 && configured != emb.Dimensions() {
		return fmt.Errorf("embedding dimension mismatch: config has %d, provider reports %d",
			configured, emb.Dimensions())
	}
	return nil
}

// ── Diagnostics server ──────────────────────────────────────────────────────

// pinger is the optional liveness probe stores and providers may implement.
type pinger interface {
	Ping(ctx context.Context) error
}

func newDiagnosticsServer(addr string, st store.Store, provider llm.Provider) *http.Server {
	var checkers []health.Checker
	if p, ok := st.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: p.Ping})
	}
	if p, ok := provider.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "llm", Check: p.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Taleweaver — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	for _, fb := range cfg.Providers.Fallbacks {
		printProvider("Fallback", fb.Name, fb.Model)
	}
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Database.PostgresDSN != "" {
		fmt.Printf("║  Persistence     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Persistence     : %-19s ║\n", "in-memory")
	}
	fmt.Printf("║  Memory top-k    : %-19d ║\n", cfg.Memory.TopK)
	fmt.Printf("║  Prompt budget   : %-19d ║\n", cfg.Memory.PromptBudget)
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Diagnostics     : %-19s ║\n", cfg.Server.MetricsAddr)
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes whole numbers as int; returns 0 if the key is absent or the
// value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
