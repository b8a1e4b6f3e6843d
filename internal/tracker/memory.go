package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/applyloop/agent/internal/domain/application"
)

type recordKey struct {
	userID string
	jobID  string
}

// MemoryTracker is an in-process Tracker for tests and for the `local`
// config profile, guarded by a single RWMutex the same way the teacher's
// in-memory events repo is.
type MemoryTracker struct {
	mu    sync.RWMutex
	items map[recordKey]application.Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{items: make(map[recordKey]application.Record)}
}

func (t *MemoryTracker) UpsertAttempt(ctx context.Context, rec application.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := recordKey{rec.UserID, rec.JobID}
	existing, ok := t.items[key]
	if !ok {
		rec.UpdatedAt = time.Now()
		t.items[key] = rec
		return nil
	}

	if existing.Status == application.StatusSubmitted {
		return application.ErrAlreadySubmitted
	}
	if existing.Status != application.StatusFailed {
		return application.ErrInProgress
	}

	rec.RetryCount = existing.RetryCount + 1
	rec.UpdatedAt = time.Now()
	t.items[key] = rec
	return nil
}

func (t *MemoryTracker) MarkResult(ctx context.Context, userID, jobID string, status application.Status, confirmationID, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := recordKey{userID, jobID}
	rec, ok := t.items[key]
	if !ok {
		return application.ErrNotFound
	}

	rec.Status = status
	rec.ConfirmationID = confirmationID
	rec.Error = errMsg
	if status == application.StatusSubmitted {
		now := time.Now()
		rec.SubmittedAt = &now
	}
	rec.UpdatedAt = time.Now()
	t.items[key] = rec
	return nil
}

func (t *MemoryTracker) List(ctx context.Context, userID string, statusFilter *application.Status) ([]application.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]application.Record, 0)
	for _, rec := range t.items {
		if rec.UserID != userID {
			continue
		}
		if statusFilter != nil && rec.Status != *statusFilter {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	return out, nil
}

func (t *MemoryTracker) CountSubmittedToday(ctx context.Context, userID string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	count := 0
	for _, rec := range t.items {
		if rec.UserID != userID || rec.Status != application.StatusSubmitted {
			continue
		}
		if rec.SubmittedAt != nil && rec.SubmittedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// ListStale mirrors PostgresTracker.ListStale for tests and the `local`
// config profile: non-terminal records past olderThan, plus any submitted
// record carrying a confirmation ID.
func (t *MemoryTracker) ListStale(ctx context.Context, olderThan time.Duration) ([]application.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	out := make([]application.Record, 0)
	for _, rec := range t.items {
		switch rec.Status {
		case application.StatusQueued, application.StatusRetried:
			if rec.UpdatedAt.Before(cutoff) {
				out = append(out, rec)
			}
		case application.StatusSubmitted:
			if rec.ConfirmationID != "" {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (t *MemoryTracker) Clear(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.items {
		if key.userID == userID {
			delete(t.items, key)
		}
	}
	return nil
}
