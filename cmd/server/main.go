// Package main is the entrypoint for the sitesmith API server.
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

	"github.com/robfig/cron/v3"

	"github.com/sitesmith/sitesmith/internal/ai"
	"github.com/sitesmith/sitesmith/internal/api"
	"github.com/sitesmith/sitesmith/internal/api/handler"
	mw "github.com/sitesmith/sitesmith/internal/api/middleware"
	"github.com/sitesmith/sitesmith/internal/api/response"
	"github.com/sitesmith/sitesmith/internal/cache"
	"github.com/sitesmith/sitesmith/internal/config"
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/jobs"
	"github.com/sitesmith/sitesmith/internal/provision"
	"github.com/sitesmith/sitesmith/internal/queue"
	"github.com/sitesmith/sitesmith/internal/ratelimit"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/internal/workflow"
	"github.com/sitesmith/sitesmith/pkg/models"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache, sharing its pool with the session store
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	sessions := session.NewRedisStoreFromClient(redisCache.Client())

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	// 6. Create store and collaborator clients
	pgStore := store.NewPostgresStore(pool)

	githubClient, err := scm.NewGitHubClient(ctx, cfg.GitHub)
	if err != nil {
		return fmt.Errorf("create github client: %w", err)
	}
	hostingClient := hosting.NewHTTPClient(cfg.Hosting)
	provisionClient := provision.NewHTTPClient(cfg.Provision)

	// 7. Background queues and workflow service
	jobHandlers := jobs.New(sessions, pgStore, redisCache, nil, slog.Default())
	queueSvc := queue.NewService(jobHandlers.Map())

	workflowSvc := workflow.NewService(cfg.Workflow, cfg.AI.InferenceTimeout, workflow.Deps{
		Sessions:  sessions,
		Projects:  pgStore,
		SCM:       githubClient,
		Hosting:   hostingClient,
		Provision: provisionClient,
		Provider:  aiProvider,
		Limiter:   ratelimit.New(nil),
		Queue:     queueSvc,
		Logger:    slog.Default(),
	})

	// 8. Scheduler: drain background queues every minute, sweep sessions
	// every ten minutes
	scheduler := cron.New()
	scheduler.AddFunc("* * * * *", func() {
		stats := queueSvc.Drain(context.Background(), workflow.NotifyQueue)
		if stats.Processed > 0 {
			slog.Info("queue drained", "queue", workflow.NotifyQueue,
				"processed", stats.Processed, "failed", stats.Failed, "requeued", stats.Requeued)
		}
	})
	scheduler.AddFunc("*/10 * * * *", func() {
		queueSvc.Enqueue(workflow.NotifyQueue, &models.QueueJob{Type: models.JobTypeCleanup, Priority: 1})
	})
	scheduler.Start()
	defer scheduler.Stop()

	// 9. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		StartWorkflowHandler: handler.NewStartWorkflowHandler(workflowSvc),
		GetSessionHandler:    handler.NewGetSessionHandler(workflowSvc),
		CancelSessionHandler: handler.NewCancelSessionHandler(workflowSvc),
		ListProjectsHandler:  handler.NewListProjectsHandler(pgStore),
		GetProjectHandler:    handler.NewGetProjectHandler(pgStore),
		CreateKeyHandler:     handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:      handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:     handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
