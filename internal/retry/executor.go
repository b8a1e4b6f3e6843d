// Package retry wraps the Portal Adapter's single-shot Submit in bounded
// retries with backoff, idempotency, and kill-switch cancellation.
package retry

import (
	"context"
	"errors"
	"time"
)

const defaultMaxAttempts = 3

var ErrCancelled = errors.New("retry: cancelled by kill switch")

// SubmitRequest carries everything Submit needs, including the stable
// client-generated idempotency token.
type SubmitRequest struct {
	UserID             string
	JobID              string
	ContactFields      map[string]string
	CoverLetter        string
	IdempotencyToken   string
}

// Submitter is the single-shot collaborator the Executor retries against.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (Outcome, error)
}

// StageReporter receives a notification before each attempt, used by the
// engine to emit stage_update events.
type StageReporter func(attempt int)

// KillSwitch reports whether the owning run has been asked to stop.
type KillSwitch func() bool

// Config tunes the Executor's retry budget; a zero field takes the default.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type Executor struct {
	submitter   Submitter
	sleep       func(time.Duration)
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewExecutor(submitter Submitter, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	return &Executor{
		submitter:   submitter,
		sleep:       time.Sleep,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
	}
}

// Run attempts req up to maxAttempts times, applying backoff (or the
// portal's Retry-After hint) between attempts, and checking killSwitch
// before every retry.
func (e *Executor) Run(ctx context.Context, req SubmitRequest, killSwitch KillSwitch, report StageReporter) (Outcome, error) {
	var lastOutcome Outcome
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if report != nil {
			report(attempt)
		}

		outcome, err := e.submitter.Submit(ctx, req)
		if err != nil {
			return nil, err
		}
		lastOutcome, lastErr = outcome, nil

		if _, ok := outcome.(Timeout); ok && attempt == 1 {
			// Timeout is retryable exactly once, then permanent.
		} else if !Retryable(outcome) {
			return outcome, nil
		} else if attempt == e.maxAttempts {
			return outcome, nil
		}

		if killSwitch != nil && killSwitch() {
			return nil, ErrCancelled
		}

		delay := Backoff(attempt, e.backoffBase, e.backoffCap)
		if rl, ok := outcome.(RateLimited); ok && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		e.sleep(delay)

		if killSwitch != nil && killSwitch() {
			return nil, ErrCancelled
		}
	}

	return lastOutcome, lastErr
}
