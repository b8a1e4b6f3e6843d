package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/applyloop/agent/internal/config"
	"github.com/applyloop/agent/internal/db"
	"github.com/applyloop/agent/internal/observability"
	"github.com/applyloop/agent/internal/portal"
	"github.com/applyloop/agent/internal/reconciler"
	"github.com/applyloop/agent/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) init tracing first (so all spans/logs can attach)
	shutdownTracer, err := observability.InitTracer(context.Background(), "applyloop-reconciler", cfg.OtelEndpoint)
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 2) setup slog + trace handler (so logs include trace_id/span_id)
	base := observability.NewLogger(cfg.Env).Handler()
	logger := slog.New(observability.NewTraceHandler(base))
	slog.SetDefault(logger)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		logger.ErrorContext(ctx, "db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	portalClient := portal.NewHTTPAdapter(cfg.PortalBaseURL, nil, cfg.PortalCacheTTL)
	trk := tracker.NewPostgresTracker(pool, prom)

	rec := reconciler.New(reconciler.Config{
		SweepInterval: cfg.ReconcilerSweepInterval,
		StaleAfter:    cfg.ReconcilerStaleAfter,
		HealthAddr:    cfg.HealthAddr,
	}, trk, portalClient, reg, logger)

	logger.InfoContext(ctx, "reconciler.start",
		"health_addr", cfg.HealthAddr,
		"sweep_interval", cfg.ReconcilerSweepInterval,
		"stale_after", cfg.ReconcilerStaleAfter,
	)

	if err := rec.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "reconciler.run_failed", "err", err)
	}

	logger.InfoContext(context.Background(), "reconciler.shutdown_complete")
}
