// Package reconciler runs the out-of-band sweep that catches applications
// the main submission path lost track of: an attempt stuck mid-flight past
// its staleness window, or a submitted record whose portal-side status
// should be re-checked. It never submits anything itself — only reads
// Tracker state and the portal's view of it, and corrects the former to
// match the latter.
package reconciler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/applyloop/agent/internal/domain/application"
	"github.com/applyloop/agent/internal/portal"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker is the narrow slice of tracker.Tracker the sweep needs, plus the
// stale-record query that has no place on the engine-facing interface.
type Tracker interface {
	ListStale(ctx context.Context, olderThan time.Duration) ([]application.Record, error)
	MarkResult(ctx context.Context, userID, jobID string, status application.Status, confirmationID, errMsg string) error
}

type Config struct {
	SweepInterval time.Duration
	StaleAfter    time.Duration
	ShutdownGrace time.Duration
	HealthAddr    string
}

type Reconciler struct {
	cfg     Config
	tracker Tracker
	portal  portal.Adapter
	reg     *prometheus.Registry
	log     *slog.Logger

	readyMu sync.RWMutex
	ready   bool

	checked atomic.Uint64
	fixed   atomic.Uint64
}

func New(cfg Config, tracker Tracker, portalAdapter portal.Adapter, reg *prometheus.Registry, log *slog.Logger) *Reconciler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":9090"
	}
	return &Reconciler{
		cfg:     cfg,
		tracker: tracker,
		portal:  portalAdapter,
		reg:     reg,
		log:     log,
		ready:   true,
	}
}

// HealthHandler mirrors the teacher's worker health surface: liveness is
// unconditional, readiness flips false during the shutdown observation
// window, and /metrics exposes the shared registry.
func (r *Reconciler) HealthHandler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	g.GET("/readyz", func(c *gin.Context) {
		r.readyMu.RLock()
		ready := r.ready
		r.readyMu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if r.reg != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})))
	}

	return g
}

func (r *Reconciler) Run(ctx context.Context) error {
	srv := &http.Server{Addr: r.cfg.HealthAddr, Handler: r.HealthHandler()}
	healthDone := make(chan struct{})

	go func() {
		r.log.Info("reconciler health server starting", "addr", r.cfg.HealthAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("reconciler health server error", "err", err)
		}
		close(healthDone)
	}()

	go func() {
		<-ctx.Done()

		r.readyMu.Lock()
		r.ready = false
		r.readyMu.Unlock()

		time.Sleep(5 * time.Second) // 503 observation window

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

sweepLoop:
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler shutdown signal received")
			break sweepLoop
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}

	select {
	case <-healthDone:
	case <-time.After(7 * time.Second):
	}

	return nil
}

func (r *Reconciler) sweepOnce(ctx context.Context) {
	stale, err := r.tracker.ListStale(ctx, r.cfg.StaleAfter)
	if err != nil {
		r.log.Error("reconciler sweep: list stale failed", "err", err)
		return
	}

	for _, rec := range stale {
		r.checked.Add(1)
		if rec.ConfirmationID != "" {
			r.reconcileSubmitted(ctx, rec)
			continue
		}
		r.reconcileStuck(ctx, rec)
	}

	r.log.Info("reconciler sweep complete", "checked", r.checked.Load(), "fixed", r.fixed.Load(), "this_round", len(stale))
}

// reconcileSubmitted re-derives ground truth from the portal for a record
// that already carries a confirmation ID; the Tracker is only updated when
// the portal disagrees with what we have on file.
func (r *Reconciler) reconcileSubmitted(ctx context.Context, rec application.Record) {
	portalRec, err := r.portal.GetApplication(ctx, rec.ConfirmationID)
	if err != nil {
		r.log.Warn("reconciler: GetApplication failed", "user_id", rec.UserID, "job_id", rec.JobID, "confirmation_id", rec.ConfirmationID, "err", err)
		return
	}

	if application.Status(portalRec.Status) == rec.Status && portalRec.ConfirmationID == rec.ConfirmationID {
		return
	}

	if err := r.tracker.MarkResult(ctx, rec.UserID, rec.JobID, application.Status(portalRec.Status), portalRec.ConfirmationID, ""); err != nil {
		r.log.Error("reconciler: MarkResult failed", "user_id", rec.UserID, "job_id", rec.JobID, "err", err)
		return
	}
	r.fixed.Add(1)
}

// reconcileStuck handles an attempt that never reached the portal at all:
// there is no confirmation ID to verify against, so past the staleness
// window it is marked failed so a future retry can claim it again.
func (r *Reconciler) reconcileStuck(ctx context.Context, rec application.Record) {
	if err := r.tracker.MarkResult(ctx, rec.UserID, rec.JobID, application.StatusFailed, "", "reconciler: stuck without confirmation past staleness window"); err != nil {
		r.log.Error("reconciler: MarkResult failed", "user_id", rec.UserID, "job_id", rec.JobID, "err", err)
		return
	}
	r.fixed.Add(1)
}
