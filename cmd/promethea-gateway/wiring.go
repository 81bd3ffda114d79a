package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	"github.com/dndcreator/promethea-gateway/internal/agent/providers"
	"github.com/dndcreator/promethea-gateway/internal/agent/routing"
	"github.com/dndcreator/promethea-gateway/internal/agent/tape"
	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/config"
	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/internal/httpapi"
	"github.com/dndcreator/promethea-gateway/internal/memory"
	"github.com/dndcreator/promethea-gateway/internal/ratelimit"
	"github.com/dndcreator/promethea-gateway/internal/scheduler"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/internal/tools"
	"github.com/dndcreator/promethea-gateway/internal/tools/exec"
	"github.com/dndcreator/promethea-gateway/internal/tools/facts"
	"github.com/dndcreator/promethea-gateway/internal/turn"
)

// app bundles every long-lived component runServe needs to start and
// gracefully drain.
type app struct {
	Store     store.Store
	Bus       *bus.Bus
	Auth      *auth.Service
	Config    *config.Service
	Graph     *memory.SQLiteGraphStore
	Memory    *memory.Service
	Tools     *tools.Registry
	Scheduler *scheduler.Scheduler
	HTTP      *httpapi.Server

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("error closing component", "error", err)
		}
	}
}

// buildApp wires every component named in cfg: the relational store, auth,
// config snapshot service, memory graph + service, tool registry, turn
// engine, scheduler, and the HTTP surface sitting on top of all of them.
func buildApp(cfg *config.Config, configPath string) (*app, error) {
	logger := slog.Default()
	eventBus := bus.New(logger, bus.DefaultMailboxSize)

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	authSvc := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     toAuthAPIKeys(cfg.Auth.APIKeys),
	})
	authSvc.SetUserStore(store.AuthUserStore{Store: st})

	cfgSvc := config.NewService(cfg, eventBus)

	graph, closeGraph, err := buildGraphStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build memory graph store: %w", err)
	}

	var memSvc *memory.Service
	if graph != nil {
		memSvc = memory.NewService(graph, eventBus, logger, memory.ServiceConfig{})
	}

	provider, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}
	provider, closeTape, err := wrapTapeProvider(cfg.LLM, provider)
	if err != nil {
		return nil, fmt.Errorf("wrap tape provider: %w", err)
	}

	toolRegistry := tools.NewRegistry(cfgSvc, eventBus, logger)
	registerBuiltinTools(toolRegistry, graph, cfg)

	// memSvc is a typed *memory.Service that may be nil when memory is
	// disabled; only hand turn.New a non-nil MemoryRecaller interface value
	// when there's a real service behind it; otherwise a nil-pointer
	// interface would compare non-nil and Recall would panic on first use.
	var recaller turn.MemoryRecaller
	if memSvc != nil {
		recaller = memSvc
	}

	engine := turn.New(turn.Config{
		Model:           defaultModel(cfg.LLM),
		MaxTokens:       4096,
		HistoryRounds:   cfg.Session.HistoryRounds,
		ToolHopsMax:     cfg.Session.ToolHopsMax,
		ConfirmationTTL: turn.DefaultConfirmationTTL,
		StreamEnabled:   cfg.Session.Streaming,
	}, st, provider, toolRegistry, turn.NewMemoryConfirmationStore(), recaller, eventBus, logger)

	sched := scheduler.New(scheduler.DefaultConfig(), st, httpapi.TurnExecutor(engine), eventBus, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
		Enabled:           true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpSrv := httpapi.New(addr, httpapi.Deps{
		Sched:      sched,
		Store:      st,
		Auth:       authSvc,
		Config:     cfgSvc,
		ConfigPath: configPath,
		Memory:     memSvc,
		Graph:      graph,
		Conns:      connreg.New(),
		Limiter:    limiter,
		Bus:        eventBus,
		Logger:     logger,
	})

	a := &app{
		Store:     st,
		Bus:       eventBus,
		Auth:      authSvc,
		Config:    cfgSvc,
		Graph:     graph,
		Memory:    memSvc,
		Tools:     toolRegistry,
		Scheduler: sched,
		HTTP:      httpSrv,
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	if closeGraph != nil {
		a.closers = append(a.closers, closeGraph)
	}
	if closeTape != nil {
		a.closers = append(a.closers, closeTape)
	}
	return a, nil
}

// buildStore picks FileStore for a configured database directory or falls
// back to an in-process MemoryStore for quick local runs, mirroring the
// teacher's pattern of a durable store with a lightweight dev fallback.
func buildStore(cfg *config.Config) (store.Store, func() error, error) {
	if cfg.Database.DSN == "" {
		slog.Warn("no database.dsn configured, using in-memory store (data is lost on restart)")
		return store.NewMemoryStore(), nil, nil
	}
	fs, err := store.NewFileStore(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return fs, nil, nil
}

// buildGraphStore constructs the semantic memory backend from
// cfg.Session.Memory's gate. The Neo4j settings under that section name a
// graph backend this module never implements (the real store is the
// sqlite-vec-backed SQLiteGraphStore) — see DESIGN.md for why those fields
// stay unwired. Embedding provider credentials come from the environment,
// matching the LLM provider convention elsewhere in this file.
func buildGraphStore(cfg *config.Config) (*memory.SQLiteGraphStore, func() error, error) {
	if !cfg.Session.Memory.Enabled {
		return nil, nil, nil
	}

	dim := 1536
	mgr, err := memory.NewManager(&memory.Config{
		Enabled:   true,
		Backend:   "sqlite-vec",
		Dimension: dim,
		SQLiteVec: memory.SQLiteVecConfig{Path: "promethea-memory.db"},
		Embeddings: memory.EmbeddingsConfig{
			Provider: "openai",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Model:    "text-embedding-3-small",
		},
	})
	if err != nil {
		return nil, nil, err
	}

	graph, err := memory.NewSQLiteGraphStore("promethea-facts.db", mgr)
	if err != nil {
		return nil, nil, err
	}
	return graph, graph.Close, nil
}

func toAuthAPIKeys(keys []config.APIKeyConfig) []auth.APIKeyConfig {
	out := make([]auth.APIKeyConfig, 0, len(keys))
	for _, k := range keys {
		out = append(out, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	return out
}

// buildLLMProvider selects an agent.LLMProvider from
// cfg.LLM.Providers[cfg.LLM.DefaultProvider], covering every provider the
// providers package carries. When cfg.FallbackChain names a provider,
// the default and that first fallback are both built and handed to
// routing.Router, which retries the fallback if the default's Complete
// call errors — Router.Fallback only carries a single target, so only
// the chain's first entry is consulted even if more are configured.
func buildLLMProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := cfg.DefaultProvider
	if name == "" {
		name = "anthropic"
	}

	primary, err := buildNamedLLMProvider(name, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.FallbackChain) == 0 {
		return primary, nil
	}

	fallbackName := cfg.FallbackChain[0]
	fallback, err := buildNamedLLMProvider(fallbackName, cfg)
	if err != nil {
		return nil, fmt.Errorf("build fallback provider %q: %w", fallbackName, err)
	}

	return routing.NewRouter(routing.Config{
		DefaultProvider: name,
		Fallback:        routing.Target{Provider: fallbackName},
		FailureCooldown: 30 * time.Second,
	}, map[string]agent.LLMProvider{
		name:         primary,
		fallbackName: fallback,
	}), nil
}

// buildNamedLLMProvider constructs a single named provider from its
// cfg.LLM.Providers entry.
func buildNamedLLMProvider(name string, cfg config.LLMConfig) (agent.LLMProvider, error) {
	pcfg := cfg.Providers[name]

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(pcfg.APIKey), nil
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:     pcfg.BaseURL,
			APIKey:       pcfg.APIKey,
			DefaultModel: pcfg.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       pcfg.Region,
			DefaultModel: pcfg.DefaultModel,
		})
	case "copilot_proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: pcfg.BaseURL,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       pcfg.APIKey,
			DefaultModel: pcfg.DefaultModel,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      pcfg.BaseURL,
			DefaultModel: pcfg.DefaultModel,
		}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       pcfg.APIKey,
			DefaultModel: pcfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported default_provider %q", name)
	}
}

// wrapTapeProvider wraps provider for recording or replay per
// cfg.TapeMode, giving the turn engine's converse() loop a seam for
// testing without live LLM calls: record mode captures every turn to
// cfg.TapePath on shutdown via the returned closer; replay mode loads a
// tape from cfg.TapePath and substitutes a tape.Replayer for provider
// entirely, so no network call is ever made.
func wrapTapeProvider(cfg config.LLMConfig, provider agent.LLMProvider) (agent.LLMProvider, func() error, error) {
	switch cfg.TapeMode {
	case "":
		return provider, nil, nil
	case "record":
		if cfg.TapePath == "" {
			return nil, nil, fmt.Errorf("tape_mode record requires tape_path")
		}
		rec := tape.NewRecorder(provider)
		closeFn := func() error {
			data, err := rec.Tape().Marshal()
			if err != nil {
				return fmt.Errorf("marshal tape: %w", err)
			}
			return os.WriteFile(cfg.TapePath, data, 0o644)
		}
		return rec, closeFn, nil
	case "replay":
		if cfg.TapePath == "" {
			return nil, nil, fmt.Errorf("tape_mode replay requires tape_path")
		}
		data, err := os.ReadFile(cfg.TapePath)
		if err != nil {
			return nil, nil, fmt.Errorf("read tape %q: %w", cfg.TapePath, err)
		}
		recorded, err := tape.Unmarshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("unmarshal tape %q: %w", cfg.TapePath, err)
		}
		return tape.NewReplayer(recorded), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tape_mode %q", cfg.TapeMode)
	}
}

func defaultModel(cfg config.LLMConfig) string {
	if pcfg, ok := cfg.Providers[cfg.DefaultProvider]; ok && pcfg.DefaultModel != "" {
		return pcfg.DefaultModel
	}
	return "claude-sonnet-4-5"
}

// registerBuiltinTools wires the shell-exec and fact-lookup/extract tools
// into registry. graph may be nil when memory is disabled, in which case
// the fact tools are skipped since they have nothing to search.
func registerBuiltinTools(registry *tools.Registry, graph *memory.SQLiteGraphStore, cfg *config.Config) {
	mgr := exec.NewManager(os.TempDir())
	_ = registry.Register(exec.NewExecTool("shell.exec", mgr))
	_ = registry.Register(exec.NewProcessTool(mgr))

	if graph != nil {
		_ = registry.Register(facts.NewLookupTool(graph, 5))
		_ = registry.Register(facts.NewExtractTool(5))
	}
}
