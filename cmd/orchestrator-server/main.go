// Package main provides the entry point for the orchestration server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/billing"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/callback"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/config"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/dispatch"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/manifest"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/proxycheck"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/reconcile"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/relay"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/server"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/storage"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("orchestrator starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"worker_pool_url", cfg.WorkerPoolURL,
	)

	if cfg.CallbackSecret == "" {
		logger.Error("callback secret is not configured, set VGO_CALLBACK_SECRET")
		os.Exit(1)
	}
	if cfg.APIToken == "" {
		logger.Error("api token is not configured, set VGO_API_TOKEN")
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}

	dbClient, err := db.NewClient(ctx, dbCfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	// Initialize database schema
	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	// Object storage for manifests and artifacts
	var objects storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:      cfg.S3Bucket,
			Region:      cfg.S3Region,
			EndpointURL: cfg.S3EndpointURL,
		})
		if err != nil {
			logger.Error("failed to create object store", "error", err)
			os.Exit(1)
		}
		objects = s3Store
	} else {
		logger.Warn("no s3 bucket configured, manifests are held in memory only")
		objects = storage.NewMemoryStore()
	}

	// Worker pool client
	pool := workerpool.New(cfg.WorkerPoolURL, cfg.CallbackSecret, cfg.WorkerPoolTimeout)

	// Callback pipeline
	applier := callback.NewApplier(dbClient, objects, billing.Noop{}, logger)
	receiver := callback.NewReceiver(cfg.CallbackSecret, applier, logger)

	// Dispatch pipeline
	manifests := manifest.NewStore(objects)
	dispatcher := dispatch.New(dbClient, pool, manifests, logger)

	// Proxy health checks; downloads route through the best healthy proxy
	checker := proxycheck.New(dbClient, nil, cfg.DefaultProxyID, logger)
	dispatcher.SetProxyPicker(checker)

	// Reconciler sweeps stale running tasks in the background
	reconciler := reconcile.New(dbClient, pool, applier,
		cfg.ReconcileInterval, cfg.StalenessThreshold, logger)
	go reconciler.Run(ctx)

	// HTTP API
	srv := server.New(cfg.ListenAddr, server.Deps{
		Store:      dbClient,
		Dispatcher: dispatcher,
		Checker:    checker,
		Callback:   receiver,
		Relay:      relay.New(pool, logger),
		Metrics:    metrics.NewCollector(),
		Auth:       server.NewTokenAuthenticator(cfg.APIToken),
	}, logger)

	logger.Info("server ready", "addr", cfg.ListenAddr)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
