// Package engine is the Workflow Engine: it walks a ranked apply queue for
// one user, pushing every job through the Policy Gate, Personalizer,
// Evidence Grounder, and Retry Executor, and publishing an Event for every
// state transition along the way.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/applyloop/agent/internal/actorctx"
	"github.com/applyloop/agent/internal/domain/match"
	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
	"github.com/applyloop/agent/internal/domain/run"
	"github.com/applyloop/agent/internal/eventbus"
	"github.com/applyloop/agent/internal/observability"
	"github.com/applyloop/agent/internal/personalizer"
	"github.com/applyloop/agent/internal/portal"
	"github.com/applyloop/agent/internal/tracker"
)

// Ranker is the subset of ranker.Ranker the engine depends on.
type Ranker interface {
	Rank(ctx context.Context, prof profile.Profile, jobs []posting.Job, pol policy.Policy) ([]match.Match, error)
}

type Config struct {
	MaxParallelJobsPerRun int
	KillPollInterval      time.Duration
	IdempotencySecret     []byte

	RetryMaxAttempts int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

// Engine owns the process-wide per-user Run registry. The implicit
// "global current run" the teacher's worker assumes (one job queue for the
// whole process) becomes, here, a concrete registry keyed by user id, each
// entry guarded by its own lock so one user's run never blocks another's.
type Engine struct {
	cfg Config

	ranker       Ranker
	personalizer personalizer.Personalizer
	grounder     personalizer.Grounder
	portalAdapter portal.Adapter
	tracker      tracker.Tracker
	bus          *eventbus.Bus
	metrics      *observability.SubmissionMetrics

	registryMu sync.Mutex
	registry   map[string]*runHandle

	lastCtxMu sync.Mutex
	lastCtx   map[string]runContext
}

// runContext is the profile/policy pair a user last started a Run with.
// There is no persisted profile store in this system — Start always carries
// both inline — so the single-job retry endpoint reuses whatever the user
// most recently supplied rather than requiring them to resend it.
type runContext struct {
	Profile profile.Profile
	Policy  policy.Policy
}

type runHandle struct {
	mu     sync.Mutex
	run    run.Run
	cancel context.CancelFunc
}

func New(
	cfg Config,
	r Ranker,
	p personalizer.Personalizer,
	portalAdapter portal.Adapter,
	tr tracker.Tracker,
	bus *eventbus.Bus,
	metrics *observability.SubmissionMetrics,
) *Engine {
	if cfg.MaxParallelJobsPerRun <= 0 {
		cfg.MaxParallelJobsPerRun = 1
	}
	if cfg.KillPollInterval <= 0 {
		cfg.KillPollInterval = 2 * time.Second
	}
	return &Engine{
		cfg:           cfg,
		ranker:        r,
		personalizer:  p,
		portalAdapter: portalAdapter,
		tracker:       tr,
		bus:           bus,
		metrics:       metrics,
		registry:      make(map[string]*runHandle),
		lastCtx:       make(map[string]runContext),
	}
}

// Start launches a new Run for userID. Returns run.ErrAlreadyRunning if one
// is already in flight.
func (e *Engine) Start(ctx context.Context, userID string, prof profile.Profile, pol policy.Policy, filters posting.ListFilters) error {
	e.registryMu.Lock()
	if existing, exists := e.registry[userID]; exists {
		existing.mu.Lock()
		running := existing.run.Status == run.StatusRunning
		existing.mu.Unlock()
		if running {
			e.registryMu.Unlock()
			return run.ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(actorctx.WithUserID(context.Background(), userID))
	h := &runHandle{cancel: cancel}
	h.run.Status = run.StatusRunning
	e.registry[userID] = h
	e.registryMu.Unlock()

	e.lastCtxMu.Lock()
	e.lastCtx[userID] = runContext{Profile: prof, Policy: pol}
	e.lastCtxMu.Unlock()

	go e.execute(runCtx, h, userID, prof, pol, filters)
	return nil
}

// LastContext returns the profile/policy pair userID most recently started
// a Run with, if any.
func (e *Engine) LastContext(userID string) (profile.Profile, policy.Policy, bool) {
	e.lastCtxMu.Lock()
	defer e.lastCtxMu.Unlock()
	rc, ok := e.lastCtx[userID]
	return rc.Profile, rc.Policy, ok
}

// Stop requests a running Run to halt at its next kill-switch check.
func (e *Engine) Stop(userID string) error {
	e.registryMu.Lock()
	h, exists := e.registry[userID]
	e.registryMu.Unlock()
	if !exists {
		return run.ErrNotRunning
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run.Status != run.StatusRunning {
		return run.ErrNotRunning
	}
	h.run.RequestKill()
	return nil
}

// Status returns a snapshot of userID's current or most recent Run.
func (e *Engine) Status(userID string) (run.Run, bool) {
	e.registryMu.Lock()
	h, exists := e.registry[userID]
	e.registryMu.Unlock()
	if !exists {
		return run.Run{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run, true
}

// Subscribe exposes the event bus subscription for userID's run stream.
func (e *Engine) Subscribe(userID string, sinceSeq uint64) (<-chan run.Event, func()) {
	return e.bus.Subscribe(userID, sinceSeq)
}

func (e *Engine) killRequested(h *runHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.KillRequested
}

func (e *Engine) publish(ctx context.Context, userID string, evt run.Event) {
	e.bus.Publish(evt)
	slog.Default().InfoContext(ctx, "engine.event", "user_id", userID, "type", evt.Type, "job_id", evt.JobID)
}
