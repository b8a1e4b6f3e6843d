// Package portal adapts the upstream job portal's HTTP API to the Retry
// Executor's Submitter interface and the engine's job-sourcing needs.
package portal

import (
	"context"

	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/retry"
)

// ApplicationRecord is the reconciliation read model returned by
// GetApplication; used only by the out-of-band reconciler, never the main
// submission path.
type ApplicationRecord struct {
	ConfirmationID string
	Status         string
	JobID          string
}

// Adapter is the full surface the engine and reconciler depend on.
type Adapter interface {
	ListJobs(ctx context.Context, filters posting.ListFilters) ([]posting.Job, error)
	retry.Submitter
	GetApplication(ctx context.Context, confirmationID string) (ApplicationRecord, error)
}
