package main

import (
	"context"
	"embed"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/config"
	"github.com/barockok/kalla-engine/pkg/database"
	"github.com/barockok/kalla-engine/pkg/handlers"
	"github.com/barockok/kalla-engine/pkg/llm"
	"github.com/barockok/kalla-engine/pkg/logging"
	"github.com/barockok/kalla-engine/pkg/middleware"
	"github.com/barockok/kalla-engine/pkg/orchestrator"
	"github.com/barockok/kalla-engine/pkg/scoped"
	"github.com/barockok/kalla-engine/pkg/session"
	"github.com/barockok/kalla-engine/pkg/sources"
	"github.com/barockok/kalla-engine/pkg/tools"
	"github.com/barockok/kalla-engine/pkg/worker"
)

// Version is set at build time via ldflags
var Version = "dev"

//go:embed migrations/*.sql
var migrationFiles embed.FS

func main() {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("mirror_enabled", cfg.Mirror.Enabled()),
		zap.Bool("worker_enabled", cfg.Worker.Enabled()),
	)

	ctx := context.Background()

	// The durable mirror is optional. Without it sessions live only in
	// process memory and expire with the TTL.
	var mirror session.Mirror
	if cfg.Mirror.Enabled() {
		db, err := database.NewConnection(ctx, cfg.Mirror.ConnectionString(), cfg.Mirror.MaxConnections)
		if err != nil {
			logger.Fatal("failed to connect to mirror database", zap.Error(err))
		}
		defer db.Close()

		if err := database.RunMigrations(migrationFiles, cfg.Mirror.URL(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		mirror = session.NewPostgresMirror(db.Pool, logger)
	}

	store := session.NewStore(cfg.Session.TTL(), cfg.Session.CleanupInterval(), mirror, logger)
	registry := sources.NewRegistry(logger)

	completion, err := llm.NewCompletionClient(cfg.LLM.Provider, &llm.ClientConfig{
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLM.Timeout(),
	}, logger)
	if err != nil {
		logger.Fatal("failed to create completion client", zap.Error(err))
	}
	structured := llm.NewStructuredClient(completion, cfg.LLM.Temperature, logger)
	toolset := tools.NewToolset(structured, logger)

	translator := scoped.NewTranslator(
		scoped.NewPostgresLoader(logger),
		scoped.NewFlatFileLoader(scoped.FileObjectStore{}, logger),
		logger,
	)

	var dispatcher worker.Dispatcher
	if cfg.Worker.Enabled() {
		nd, err := worker.NewNATSDispatcher(cfg.Worker.NATSURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to worker queue", zap.Error(err))
		}
		defer nd.Close()
		dispatcher = nd
	}
	runs := worker.NewRunIndex()

	orch := orchestrator.NewOrchestrator(store, registry, toolset, translator,
		dispatcher, runs, cfg.Worker.CallbackBase, cfg.Worker.OutputPath, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(orch, logger).RegisterRoutes(mux)
	handlers.NewSourcesHandler(registry, translator, logger).RegisterRoutes(mux)
	handlers.NewToolsHandler(tools.NewRegistry(toolset), logger).RegisterRoutes(mux)
	handlers.NewWorkerHandler(store, runs, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("starting kalla-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
