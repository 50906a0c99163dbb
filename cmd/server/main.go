// Package main is the entrypoint for the car counter API server.
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

	"github.com/haakonsb/carcounter/internal/analysis"
	"github.com/haakonsb/carcounter/internal/api"
	"github.com/haakonsb/carcounter/internal/api/handler"
	mw "github.com/haakonsb/carcounter/internal/api/middleware"
	"github.com/haakonsb/carcounter/internal/auth"
	"github.com/haakonsb/carcounter/internal/blob"
	"github.com/haakonsb/carcounter/internal/cache"
	"github.com/haakonsb/carcounter/internal/config"
	"github.com/haakonsb/carcounter/internal/jobs"
	"github.com/haakonsb/carcounter/internal/store"
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
	slog.Info("config loaded", "store_backend", cfg.Store.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect the job record backend
	jobStore, cleanup, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// 3. Create Redis cache. Reads degrade to misses when Redis is down,
	// so cache failures never surface to callers.
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Create S3 blob store
	blobStore, err := blob.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	slog.Info("blob store ready", "bucket", cfg.S3.Bucket)

	// 5. Create the analysis coordinator
	runner := analysis.NewScriptRunner(cfg.Analyzer)
	coordinator := jobs.New(jobStore, blobStore, cache.NewFailSoft(redisCache), runner, jobs.Options{
		WorkDir:    cfg.Analyzer.WorkDir,
		SignedTTL:  cfg.S3.SignedTTL,
		PresignTTL: cfg.S3.PresignTTL,
	})

	// 6. Build router with dependencies
	verifier := auth.NewStaticVerifier(cfg.Auth.Keys)
	h := handler.NewJobs(coordinator, 0)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(verifier),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: handler.Health(jobStore, redisCache),

		AnalyzeHandler:          h.Analyze,
		AnalyzeFromStoreHandler: h.AnalyzeFromStore,
		PresignUploadHandler:    h.PresignUpload,
		ListJobsHandler:         h.List,
		GetJobHandler:           h.Get,
		ListImagesHandler:       h.Images,
		StreamHandler:           h.Stream,
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
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

	// Let in-flight analyses reach their terminal state before exiting,
	// so no job is left running forever.
	slog.Info("waiting for in-flight jobs...")
	coordinator.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// connectStore picks the job record backend from config. Both backends
// expose the same Store surface; nothing downstream branches on the choice.
func connectStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendDynamo:
		client, err := store.ConnectDynamo(ctx, cfg.Dynamo)
		if err != nil {
			return nil, nil, fmt.Errorf("connect dynamo: %w", err)
		}
		slog.Info("dynamo connected", "table", cfg.Dynamo.Table)
		return store.NewDynamoStore(client, cfg.Dynamo), func() {}, nil

	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		return store.NewPostgresStore(pool), pool.Close, nil
	}
}
