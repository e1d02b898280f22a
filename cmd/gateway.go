package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/tollgate/internal/agent"
	"github.com/nextlevelbuilder/tollgate/internal/balance"
	"github.com/nextlevelbuilder/tollgate/internal/batcher"
	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/channels"
	"github.com/nextlevelbuilder/tollgate/internal/channels/telegram"
	"github.com/nextlevelbuilder/tollgate/internal/config"
	"github.com/nextlevelbuilder/tollgate/internal/contextbuild"
	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/gentrack"
	"github.com/nextlevelbuilder/tollgate/internal/ingress"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
	"github.com/nextlevelbuilder/tollgate/internal/store"
	"github.com/nextlevelbuilder/tollgate/internal/store/pg"
	"github.com/nextlevelbuilder/tollgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/tollgate/internal/stream"
	"github.com/nextlevelbuilder/tollgate/internal/telemetry"
	"github.com/nextlevelbuilder/tollgate/internal/tools"
	"github.com/nextlevelbuilder/tollgate/internal/writebehind"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	durableStore, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open durable store", "mode", cfg.Database.Mode, "error", err)
		os.Exit(1)
	}

	objCache := cache.New()
	breaker := cache.NewBreaker(objCache, cfg.Breaker.MaxFailuresOrDefault(), cfg.Breaker.OpenFor())

	llmClient := llm.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	files := filestore.New(llmClient.SDK(), breaker, time.Duration(cfg.TTLs.FilesAPITTLHours)*time.Hour)
	artifacts := execartifact.New(breaker, cfg.TTLs.ExecArtifact())

	wbQueue := writebehind.New(breaker, cfg.Stream.Retries())
	flusher := writebehind.NewFlusher(wbQueue, durableStore, cfg.Stream.FlusherInterval(), cfg.Stream.BatchSize())
	go flusher.Run(ctx)

	streams := stream.NewManager()
	gens := gentrack.New()
	balanceGate := balance.New(durableStore)

	sandboxMgr := sandbox.NewDockerManager(cfg.Sandbox.ToSandboxConfig())

	defaultModel, ok := cfg.Models.Entries[cfg.Models.Default]
	if !ok {
		slog.Error("default model not found in model registry", "default", cfg.Models.Default)
		os.Exit(1)
	}

	visionPricing := defaultModel.Pricing()
	if vm, ok := cfg.Models.Entries[cfg.Tools.VisionModel]; ok {
		visionPricing = vm.Pricing()
	}

	toolsReg := tools.NewBuiltinRegistry(tools.BuiltinConfig{
		Client:             llmClient,
		Files:              files,
		Artifacts:          artifacts,
		SandboxMgr:         sandboxMgr,
		Balance:            balanceGate,
		VisionModel:        cfg.Tools.VisionModel,
		VisionPricing:      visionPricing,
		AnalyzePDFMaxChars: cfg.Tools.AnalyzePDFMaxChars,
		Transcribe:         cfg.Tools.Transcribe.ToToolConfig(),
		ImageGen:           cfg.Tools.ImageGen.ToToolConfig(),
		Latex:              cfg.Tools.Latex.ToToolConfig(),
		ExecutePython:      cfg.Tools.ExecutePython.ToToolConfig(),
		SelfCritique:       cfg.Tools.SelfCritique.ToToolConfig(defaultModel.Pricing()),
	})

	contextBuilder := contextbuild.New(contextbuild.Config{
		MaxHistoryMessages: 200,
		ContextWindow:      defaultModel.ContextWindow,
		HistoryShare:       0.7,
	}, artifacts, llm.EstimateTokens)

	ing := ingress.New(durableStore, breaker, files, wbQueue, cfg.Tools.Transcribe.ToToolConfig(), cfg.TTLs.Cache())

	models := make(map[string]agent.ModelConfig, len(cfg.Models.Entries))
	for key, entry := range cfg.Models.Entries {
		models[key] = agent.ModelConfig{ProviderModel: entry.ProviderModel, Pricing: entry.Pricing()}
	}

	// orchestrator.Sinks is filled in once the Telegram channel exists below;
	// the batcher needs orchestrator.HandleBatch bound before that, and the
	// Telegram channel needs the batcher, so the two are wired in two steps.
	orchestrator := &agent.Orchestrator{
		Client:          llmClient,
		Tools:           toolsReg,
		ContextBuilder:  contextBuilder,
		Streams:         streams,
		Balance:         balanceGate,
		Store:           durableStore,
		Breaker:         breaker,
		WriteBehind:     wbQueue,
		Artifacts:       artifacts,
		Files:           files,
		Models:          models,
		DefaultModel:    cfg.Models.Default,
		GlobalSystem:    globalSystemPrompt,
		DraftEditPeriod: cfg.Stream.DraftEditPeriod(),
		CacheTTL:        cfg.TTLs.Cache(),
	}
	bat := batcher.New(gens, cfg.Batcher.Window(), orchestrator.HandleBatch)

	manager := channels.NewManager()
	if cfg.Telegram.Enabled {
		telegramChannel, err := telegram.New(cfg.Telegram, ing, bat, durableStore)
		if err != nil {
			slog.Error("failed to construct telegram channel", "error", err)
			os.Exit(1)
		}
		orchestrator.Sinks = telegramChannel.NewSink
		manager.Register(telegramChannel)
	} else {
		slog.Warn("telegram channel disabled in config — gateway will run with no frontend")
	}

	if err := manager.StartAll(ctx); err != nil {
		slog.Error("one or more channels failed to start", "error", err)
	}

	go watchConfigReload(ctx, cfgPath, cfg)

	slog.Info("tollgate gateway running", "config", cfgPath, "database_mode", cfg.Database.Mode, "config_hash", cfg.Hash())

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(shutdownCtx)
}

// watchConfigReload reloads config.json on SIGHUP and swaps it into cfg via
// ReplaceFrom, so any code holding the same *config.Config pointer sees the
// new values without a restart. Components built once at startup from a
// copied field (the durable store handle, the sandbox manager, the
// registered tool closures) are unaffected until the process restarts —
// only live reads of cfg itself pick up the reload.
func watchConfigReload(ctx context.Context, path string, cfg *config.Config) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			reloaded, err := config.Load(path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			cfg.ReplaceFrom(reloaded)
			slog.Info("config reloaded", "config", path, "config_hash", cfg.Hash())
		}
	}
}

// openStore selects the durable store backend per cfg.Database.Mode: sqlite
// for standalone deployments, Postgres (via pgx) for the managed mode the
// write-behind flusher and balance ledger both assume is durable and
// transactional.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Mode == "postgres" {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg.New(db), nil
	}
	path := config.ExpandHome(cfg.Database.SQLitePath)
	if path == "" {
		path = "tollgate.db"
	}
	return sqlite.Open(path)
}

// globalSystemPrompt is the static prefix every turn's system block starts
// with, regardless of thread or model. Per-thread/per-file content is
// appended by contextbuild.Builder.Build.
const globalSystemPrompt = `You are Tollgate, a helpful assistant reachable over Telegram. Every turn you run is billed against the user's prepaid balance, so stay focused and avoid unnecessary tool calls.`
