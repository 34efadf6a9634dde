// Package main provides the CLI entry point for agentd, the AI trading-intent
// backend.
//
// agentd turns natural-language trading requests into structured, confirmable
// strategy previews and deterministic cross-chain execution plans. It drives
// an LLM (DeepSeek, OpenAI, DashScope, or Anthropic) through a bounded tool
// loop over live exchange data, and tracks cross-chain intents through a
// connector lifecycle.
//
// # Basic Usage
//
// Start the server:
//
//	agentd serve
//
// # Environment Variables
//
// Configuration is environment-driven with the AGENT_BACKEND_ prefix:
//
//   - AGENT_BACKEND_MODEL_PROVIDER: deepseek | openai | dashscope | anthropic
//   - AGENT_BACKEND_HTTP_ADDR: listen address (default :8000)
//   - DEEPSEEK_API_KEY / OPENAI_API_KEY / DASHSCOPE_API_KEY / ANTHROPIC_API_KEY
//
// A .env file in the working directory is loaded when present.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/internal/agent/providers"
	"github.com/quantbay/agentd/internal/api"
	"github.com/quantbay/agentd/internal/config"
	"github.com/quantbay/agentd/internal/crosschain"
	"github.com/quantbay/agentd/internal/market"
	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/internal/sessions"
	"github.com/quantbay/agentd/internal/strategy"
	"github.com/quantbay/agentd/internal/tools"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// appliedInboundRetention bounds the inbound dedup set; entries older than this
// are pruned by the periodic sweep.
const appliedInboundRetention = 24 * time.Hour

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "agentd - AI trading-intent backend",
		Long: `agentd turns natural-language trading requests into structured strategy
previews and deterministic cross-chain execution plans.

Supported model providers: DeepSeek, OpenAI, DashScope, Anthropic
Market data: Binance spot klines with computed indicators`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// A missing .env is fine; real env vars win over file entries.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentd",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	store := sessions.NewStore(cfg.SessionTTL, sessions.WithCountCallback(func(n int) {
		metrics.ActiveSessions.Set(float64(n))
	}))
	marketClient := market.NewClient(cfg.BinanceBaseURL, cfg.CEXDefaultQuote, cfg.LLMTimeout)

	defaults, err := strategy.LoadDefaults(cfg.StrategyConfigPath)
	if err != nil {
		return err
	}

	intents := crosschain.NewService(nil, crosschain.WithObservability(logger, metrics))

	var planner api.Planner
	if !cfg.DisableStartup {
		p, err := buildPlanner(ctx, cfg, marketClient, logger, metrics, tracer)
		if err != nil {
			return err
		}
		planner = p
	}

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Sessions:   store,
		Planner:    planner,
		Market:     marketClient,
		Normalizer: strategy.NewNormalizer(defaults),
		Intents:    intents,
	})

	if !cfg.DisableStartup {
		sweeper := cron.New()
		_, err = sweeper.AddFunc("@every 1m", func() {
			if removed := store.CleanupExpired(); removed > 0 {
				logger.Debug(ctx, "session sweep", "removed", removed)
			}
			timedOut, pruned := intents.Sweep(appliedInboundRetention)
			if timedOut > 0 || pruned > 0 {
				logger.Debug(ctx, "intent sweep", "timed_out", timedOut, "pruned", pruned)
			}
		})
		if err != nil {
			return fmt.Errorf("sweep schedule: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "agentd started",
		"version", version,
		"provider", cfg.ModelProvider,
		"model", cfg.ModelName,
		"simple_strategy", cfg.UseSimpleStrategy)

	// Block until a shutdown signal or the command context ends.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildPlanner constructs the model provider, the tool set, and the
// orchestration loop around them.
func buildPlanner(ctx context.Context, cfg *config.Config, marketClient *market.Client, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*agent.Planner, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	registry := agent.NewToolRegistry()
	registry.Register(tools.WithPreset(
		tools.NewKlinesTool(marketClient, cfg.KlineInterval, cfg.KlineLimit),
		map[string]any{"interval": cfg.KlineInterval, "limit": cfg.KlineLimit},
	))
	registry.Register(tools.NewFeaturesTool(marketClient, cfg.KlineInterval, cfg.KlineLimit))
	registry.Register(tools.NewPreviewTool())

	// The AMM quote tool only exists when an EVM deployment is configured.
	if cfg.EVMRPCURL != "" {
		ammTool, err := tools.NewAMMQuoteTool(tools.AMMConfig{
			RPCURL:       cfg.EVMRPCURL,
			Router:       cfg.RouterAddress,
			Factory:      cfg.FactoryAddress,
			Pair:         cfg.PairAddress,
			WETH:         cfg.WETHAddress,
			TokenAddress: cfg.DemoTokenAddress,
			TokenSymbol:  cfg.DemoTokenSymbol,
		})
		if err != nil {
			logger.Warn(ctx, "amm quote tool disabled", "error", err)
		} else {
			registry.Register(ammTool)
		}
	}

	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{
		PerToolTimeout: cfg.ToolTimeout,
	}, metrics, tracer)

	return agent.NewPlanner(provider, registry, executor, agent.PlannerConfig{
		MaxIters:                 cfg.ToolMaxIters,
		LLMTimeout:               cfg.LLMTimeout,
		StreamTimeout:            cfg.LLMStreamTimeout,
		DisableUpstreamStreaming: !cfg.UpstreamStreaming,
	}, logger, metrics, tracer), nil
}

// buildProvider selects the model backend. The three OpenAI-compatible
// providers share one client pointed at different base URLs.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.ModelProvider)
	}

	if cfg.ModelProvider == config.ProviderAnthropic {
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.ProviderBaseURL,
			DefaultModel: cfg.ModelName,
		})
	}
	return providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.ProviderBaseURL,
		Name:         cfg.ModelProvider,
		DefaultModel: cfg.ModelName,
	}), nil
}
