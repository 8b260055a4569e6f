// Package main is the entrypoint for the threadpost API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiranshivaraju/threadpost/internal/api"
	"github.com/kiranshivaraju/threadpost/internal/api/handler"
	mw "github.com/kiranshivaraju/threadpost/internal/api/middleware"
	"github.com/kiranshivaraju/threadpost/internal/api/response"
	"github.com/kiranshivaraju/threadpost/internal/cache"
	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/internal/events"
	"github.com/kiranshivaraju/threadpost/internal/jobs"
	"github.com/kiranshivaraju/threadpost/internal/metrics"
	"github.com/kiranshivaraju/threadpost/internal/publisher"
	"github.com/kiranshivaraju/threadpost/internal/store"
	"github.com/kiranshivaraju/threadpost/internal/thread"
)

const (
	shutdownTimeout    = 30 * time.Second
	healthCheckTimeout = 2 * time.Second
)

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
	// 1. Optional .env, then config. Fail fast on invalid config.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"publish_mode", cfg.Publish.Mode,
		"max_posts", cfg.Thread.MaxPosts,
		"delay_ms", cfg.Thread.Delay.Milliseconds(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// 2. Publisher: platform client or dry run, behind the guard.
	base, err := publisher.NewPublisher(cfg)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	if cfg.Publish.Mode == config.PublishModeLive && !cfg.X.Configured() {
		slog.Warn("X credentials are not configured; thread requests will be rejected until X_BEARER_TOKEN is set")
	}
	guard := publisher.NewGuard(base, publisher.GuardConfig{
		RatePerMinute:    cfg.Publish.RatePerMinute,
		FailureThreshold: cfg.Publish.BreakerThreshold,
		Delay:            cfg.Publish.BreakerDelay,
	})
	pub := m.InstrumentPublisher(guard)
	slog.Info("publisher initialized", "publisher", pub.Name())

	// 3. Lifecycle events
	var sink events.Sink = events.NopSink{}
	var kafkaSink *events.KafkaSink
	if cfg.Kafka.Enabled() {
		kafkaSink, err = events.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("create kafka sink: %w", err)
		}
		defer kafkaSink.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := kafkaSink.Ping(pingCtx); err != nil {
			slog.Warn("kafka unreachable; events will be retried per record", "error", err)
		}
		cancel()
		sink = kafkaSink
		slog.Info("thread events enabled", "topic", cfg.Kafka.Topic)
	}

	// 4. Pipeline and job registry
	pipeline := thread.NewPipeline(thread.NewValidator(cfg.Thread), pub, thread.SleepPacer{}, cfg.Thread.Delay)
	registry := jobs.NewRegistry(pipeline,
		jobs.WithMaxRetained(cfg.Jobs.MaxRetained),
		jobs.WithSink(sink),
		jobs.WithObserver(m),
	)

	// 5. API-key store
	var keyStore store.Store
	var auth *mw.Auth
	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		keyStore = store.NewPostgresStore(pool)
		auth = mw.NewAuth(keyStore)
	} else {
		slog.Warn("DATABASE_URL not set; API authentication is disabled")
	}

	// 6. Redis cache
	var redisCache cache.Cache
	var rateLimit *mw.RateLimit
	if cfg.Redis.Enabled() {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		redisCache = rc
		rateLimit = mw.NewRateLimit(rc, cfg.Server.RateLimitPerMinute)
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,
		Metrics:   m.Middleware,

		HealthHandler: healthHandler(cfg, healthChecks{
			breaker: guard,
			store:   keyStore,
			cache:   redisCache,
		}),
		MetricsHandler: m.Handler(),

		PostThreadHandler:     handler.NewPostThreadHandler(registry, cfg.Thread.MaxDelayOverride),
		ScheduleThreadHandler: handler.NewScheduleThreadHandler(registry, redisCache, cfg.Thread.MaxDelayOverride, cfg.Server.IdempotencyTTL),
		GetThreadHandler:      handler.NewGetThreadHandler(registry),
		ListThreadsHandler:    handler.NewListThreadsHandler(registry),
		CancelThreadHandler:   handler.NewCancelThreadHandler(registry),
	}
	if keyStore != nil {
		deps.CreateKeyHandler = handler.NewCreateKeyHandler(keyStore)
		deps.ListKeysHandler = handler.NewListKeysHandler(keyStore)
		deps.RevokeKeyHandler = handler.NewRevokeKeyHandler(keyStore)
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server. POST /post-thread holds its connection for the
	// whole thread, so there is no write timeout.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
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

	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("thread jobs still running at shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks holds the optional dependencies reported by /health. A nil
// field is reported as disabled.
type healthChecks struct {
	breaker interface{ BreakerState() string }
	store   pinger
	cache   pinger
}

// healthHandler reports configuration (never secrets) and backend
// connectivity. Missing credentials in live mode count as degraded.
func healthHandler(cfg *config.Config, hc healthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		credentials := cfg.X.Configured()
		checks := map[string]string{
			"credentials": "ok",
			"database":    check(ctx, hc.store),
			"cache":       check(ctx, hc.cache),
		}
		if cfg.Publish.Mode == config.PublishModeLive && !credentials {
			checks["credentials"] = "missing"
		}
		if hc.breaker != nil {
			checks["publisher_circuit"] = hc.breaker.BreakerState()
		}

		degraded := checks["credentials"] != "ok" ||
			checks["database"] == "degraded" ||
			checks["cache"] == "degraded"

		body := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"services":  checks,
			"config": map[string]any{
				"publish_mode":           cfg.Publish.Mode,
				"credentials_configured": credentials,
				"api_base_url":           cfg.X.BaseURL,
				"max_posts_per_thread":   cfg.Thread.MaxPosts,
				"max_post_length":        cfg.Thread.MaxPostLength,
				"delay_between_posts_ms": cfg.Thread.Delay.Milliseconds(),
				"auth_enabled":           hc.store != nil,
				"cache_enabled":          hc.cache != nil,
				"events_enabled":         cfg.Kafka.Enabled(),
			},
		}

		if degraded {
			body["status"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", body)
			return
		}
		response.JSON(w, body)
	}
}

func check(ctx context.Context, p pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		return "degraded"
	}
	return "ok"
}
