// Package tracker records every (user, job) application attempt durably and
// answers the Policy Gate's daily-cap question.
package tracker

import (
	"context"

	"github.com/applyloop/agent/internal/domain/application"
)

// Tracker is the interface the engine and HTTP surface depend on.
type Tracker interface {
	// UpsertAttempt is atomic by (UserID, JobID): it inserts a new record, or
	// if a prior failed record exists for the pair, claims it for retry and
	// increments RetryCount. Returns application.ErrAlreadySubmitted if the
	// existing record is already in a terminal submitted state, or
	// application.ErrInProgress if the existing record is in any other
	// non-failed state (queued, retried or skipped).
	UpsertAttempt(ctx context.Context, rec application.Record) error
	MarkResult(ctx context.Context, userID, jobID string, status application.Status, confirmationID, errMsg string) error
	List(ctx context.Context, userID string, statusFilter *application.Status) ([]application.Record, error)
	CountSubmittedToday(ctx context.Context, userID string) (int, error)
	Clear(ctx context.Context, userID string) error
}
