package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/applyloop/agent/internal/config"
	"github.com/applyloop/agent/internal/db"
	"github.com/applyloop/agent/internal/engine"
	"github.com/applyloop/agent/internal/eventbus"
	httpx "github.com/applyloop/agent/internal/http"
	"github.com/applyloop/agent/internal/observability"
	"github.com/applyloop/agent/internal/personalizer"
	"github.com/applyloop/agent/internal/portal"
	"github.com/applyloop/agent/internal/queue/redisclient"
	"github.com/applyloop/agent/internal/ranker"
	"github.com/applyloop/agent/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "applyloop-api", cfg.OtelEndpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	log := slog.New(observability.NewTraceHandler(observability.NewLogger(cfg.Env).Handler()))

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	redis := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redis.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	metrics := observability.NewSubmissionMetrics()

	collabClient := &http.Client{Timeout: cfg.CollaboratorTimeout}
	embedder := ranker.NewHTTPEmbedder(cfg.EmbeddingServiceURL, collabClient)
	r := ranker.New(embedder)

	basePersonalizer := personalizer.NewHTTPPersonalizer(cfg.PersonalizationServiceURL, collabClient)
	protectedPersonalizer := personalizer.NewProtectedPersonalizer(basePersonalizer, personalizer.ProtectedPersonalizerConfig{
		Timeout:          cfg.CollaboratorTimeout,
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	portalClient := &http.Client{Timeout: cfg.PortalTimeout}
	portalAdapter := portal.NewHTTPAdapter(cfg.PortalBaseURL, portalClient, cfg.PortalCacheTTL)

	trk := tracker.NewPostgresTracker(pool, prom)

	bus := eventbus.New(eventbus.Config{
		ReplayWindow:  cfg.EventReplayWindow,
		PendingLimit:  128,
		TerminalGrace: time.Duration(cfg.PerRunPostTerminalGraceMS) * time.Millisecond,
	})

	eng := engine.New(engine.Config{
		MaxParallelJobsPerRun: cfg.MaxParallelJobsPerRun,
		KillPollInterval:      time.Duration(cfg.KillPollIntervalMS) * time.Millisecond,
		IdempotencySecret:     cfg.IdempotencySecret,
		RetryMaxAttempts:      cfg.RetryMaxAttempts,
		RetryBackoffBase:      time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		RetryBackoffCap:       time.Duration(cfg.RetryCapMS) * time.Millisecond,
	}, r, protectedPersonalizer, portalAdapter, trk, bus, metrics)

	go pollCircuitBreaker(ctx, prom, protectedPersonalizer)

	router := httpx.NewRouter(pool, redis, eng, trk, prom, reg, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownContext, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownContext); err != nil {
		log.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		log.Info("server stopped gracefully.")
	}
}

// pollCircuitBreaker folds the personalizer's breaker state into Prom on an
// interval, the same cadence the teacher's worker used for logMetricsLoop.
func pollCircuitBreaker(ctx context.Context, prom *observability.Prom, p *personalizer.ProtectedPersonalizer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.IsOpen() {
				prom.CircuitBreakerOpen.Set(1)
			} else {
				prom.CircuitBreakerOpen.Set(0)
			}
		}
	}
}
