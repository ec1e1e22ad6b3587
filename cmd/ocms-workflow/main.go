// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/olegiv/ocms-workflow/internal/config"
	"github.com/olegiv/ocms-workflow/internal/handler/api"
	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/logging"
	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/middleware"
	"github.com/olegiv/ocms-workflow/internal/scheduler"
	"github.com/olegiv/ocms-workflow/internal/service"
	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/version"
	"github.com/olegiv/ocms-workflow/internal/webhook"
	"github.com/olegiv/ocms-workflow/internal/workflow"
)

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")
	sweepOnce := flag.Bool("sweep", false, "Run one publish sweep and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "oCMS Workflow - content approval workflow service\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DB_PATH           SQLite database path (default: ./data/ocms-workflow.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_WORKFLOW_FILE     YAML transition table (default: built-in)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_SWEEP_SCHEDULE    Cron expression for the publish sweep (default: * * * * *)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_LOCK_TTL          Default edit lock TTL (default: 5m)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_REDIS_URL         Redis URL for distributed edit locks (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DO_SEED           Create the default admin and API key on first start\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		_, _ = fmt.Println(version.Get().String())
		os.Exit(0)
	}

	if err := run(*sweepOnce); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(sweepOnce bool) error {
	// Load .env if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Warnings and errors also go to the event log from here on.
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger = slog.New(logging.NewEventLogHandler(textHandler, db))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seed(ctx, cfg, db, logger); err != nil {
		return err
	}

	m := metrics.New()

	lockStore := lock.NewStoreFromConfig(lock.StoreConfig{RedisURL: cfg.RedisURL, Prefix: cfg.LockPrefix}, db, logger)
	if c, ok := lockStore.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	locks := lock.NewManager(lockStore, lock.Config{DefaultTTL: cfg.LockTTL, MaxTTL: cfg.LockMaxTTL}, logger,
		lock.WithMetrics(m))

	events := service.NewEventService(db, logger)

	whCfg := webhook.DefaultConfig()
	whCfg.Workers = cfg.WebhookWorkers
	whCfg.AllowPrivateNetworks = cfg.WebhookAllowPrivate
	dispatcher := webhook.NewDispatcher(db, logger, whCfg, webhook.WithMetrics(m))

	engineOpts := []workflow.Option{
		workflow.WithLocks(locks),
		workflow.WithSink(workflow.MultiSink{events, dispatcher}),
		workflow.WithMetrics(m),
	}
	if cfg.WorkflowFile != "" {
		def, err := workflow.LoadDefinition(cfg.WorkflowFile)
		if err != nil {
			return fmt.Errorf("loading workflow definition: %w", err)
		}
		engineOpts = append(engineOpts, workflow.WithDefinition(def))
		logger.Info("loaded workflow definition", "path", cfg.WorkflowFile)
	}
	repo := store.NewContentRepository(db)
	engine := workflow.NewEngine(repo, store.NewUserRoles(db), logger, engineOpts...)

	sched := scheduler.New(engine, repo, logger, scheduler.WithMetrics(m))

	if sweepOnce {
		res, err := sched.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("running sweep: %w", err)
		}
		logger.Info("sweep finished", "published", res.Published, "unpublished", res.Unpublished, "failed", res.Failed)
		return nil
	}

	registry := scheduler.NewRegistry(db, logger)
	if err := sched.Register(registry, cfg.SweepSchedule); err != nil {
		return fmt.Errorf("registering publish sweep: %w", err)
	}
	if err := scheduler.RegisterMaintenance(registry, scheduler.Maintenance{
		Locks:          locks,
		Events:         events,
		Webhooks:       dispatcher,
		EventRetention: cfg.EventRetention(),
	}, logger); err != nil {
		return fmt.Errorf("registering maintenance jobs: %w", err)
	}

	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	registry.Start()
	defer registry.Stop()

	h := api.NewHandler(api.Deps{
		DB:         db,
		Engine:     engine,
		Locks:      locks,
		Registry:   registry,
		Events:     events,
		Webhooks:   webhook.NewSubscriptions(db, cfg.WebhookAllowPrivate),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	router := api.NewRouter(h, middleware.NewAuthenticator(db, logger), api.RouterConfig{
		RateLimit:       cfg.APIRateLimit,
		RateBurst:       cfg.APIRateBurst,
		PublicRateLimit: cfg.PublicRateLimit,
		PublicRateBurst: cfg.PublicRateBurst,
		Metrics:         m.Handler(),
		LogRequests:     cfg.IsDevelopment(),
		Development:     cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env,
			"version", version.Get().Version, "lock_backend", locks.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// seed creates the bootstrap admin and, in demo mode, demo users and content.
// Generated API keys are logged once.
func seed(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) error {
	if cfg.DoSeed || cfg.DemoMode {
		if _, err := store.Seed(ctx, db); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
	}
	if cfg.DemoMode {
		keys, err := store.SeedDemo(ctx, db)
		if err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
		for name, key := range keys {
			logger.Info("created demo user", "user", name, "api_key", key)
		}
	}
	return nil
}
