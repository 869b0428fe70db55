// Package main is the entrypoint for the autopost server: the HTTP API and
// the background publishing scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/autopost/internal/api"
	"github.com/kiranshivaraju/autopost/internal/api/handler"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/internal/config"
	"github.com/kiranshivaraju/autopost/internal/publisher"
	"github.com/kiranshivaraju/autopost/internal/scheduler"
	"github.com/kiranshivaraju/autopost/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store_driver", cfg.Store.Driver,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"dry_run", cfg.Publish.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store (postgres runs migrations first)
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Create publishers
	registry, err := publisher.NewRegistry(cfg.Publish, slog.Default())
	if err != nil {
		return fmt.Errorf("create publishers: %w", err)
	}
	slog.Info("publishers initialized", "targets", registry.Targets())

	// 5. Scheduler cycle, shared by the background runner and the API
	cycle := scheduler.NewCycle(scheduler.Options{
		Queue:     st,
		Publisher: registry,
		Cache:     redisCache,
		Config: scheduler.Config{
			BatchSize:      cfg.Scheduler.BatchSize,
			JobConcurrency: cfg.Scheduler.JobConcurrency,
			StaleAfter:     cfg.Scheduler.StaleAfter,
			MaxClaims:      cfg.Scheduler.MaxClaims,
		},
		Logger: slog.Default(),
	})

	// 6. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMin),

		HealthHandler: handler.NewHealthHandler(st, redisCache, cycle.Guard()),
		CreateJob:     handler.NewCreateJobHandler(st, registry),
		ListJobs:      handler.NewListJobsHandler(st),
		GetJob:        handler.NewGetJobHandler(st),
		JobStatus:     handler.NewJobStatusHandler(st, redisCache),
		CancelJob:     handler.NewCancelJobHandler(st, redisCache),
		RunCycle:      handler.NewRunCycleHandler(cycle),
		CycleReport:   handler.NewCycleReportHandler(redisCache),
	})

	// 7. Start the scheduler runner
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runnerDone := make(chan error, 1)
	if cfg.Scheduler.Enabled {
		runner := scheduler.NewRunner(cycle, cfg.Scheduler.Interval, cfg.Scheduler.OwnerID, slog.Default())
		go func() { runnerDone <- runner.Run(runCtx) }()
	} else {
		slog.Info("scheduler disabled, jobs only run on demand")
		close(runnerDone)
	}

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Publish.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting requests, then let the in-flight
	// cycle finish so no claimed job is abandoned mid-dispatch.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("server shutdown: %w", err))
	}

	cancelRun()
	if err := waitRunner(shutdownCtx, runnerDone); err != nil {
		return errors.Join(serveErr, err)
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// openStore returns the configured job store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		slog.Warn("using in-memory store, jobs do not survive a restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied", "dir", cfg.Database.MigrationsDir)

	return store.NewPostgresStore(pool), pool.Close, nil
}

// waitRunner blocks until the runner has returned or ctx expires.
func waitRunner(ctx context.Context, done <-chan error) error {
	select {
	case err, ok := <-done:
		if ok && err != nil {
			return fmt.Errorf("scheduler runner: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Error("scheduler cycle still running at shutdown deadline", "alert", "stuck_job")
		return fmt.Errorf("scheduler runner: %w", ctx.Err())
	}
}
