package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/applyloop/agent/internal/domain/application"
)

func TestMemoryTracker_UpsertAttempt_RejectsDoubleSubmit(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	rec := application.New("u1", "j1", "Go Engineer", "Acme", 80, nil)
	rec.Status = application.StatusSubmitted
	if err := tr.UpsertAttempt(ctx, rec); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}

	err := tr.UpsertAttempt(ctx, rec)
	if err != application.ErrAlreadySubmitted {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestMemoryTracker_UpsertAttempt_ClaimsFailedForRetry(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	rec := application.New("u1", "j1", "Go Engineer", "Acme", 80, nil)
	rec.Status = application.StatusFailed
	if err := tr.UpsertAttempt(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retry := rec
	retry.Status = application.StatusQueued
	if err := tr.UpsertAttempt(ctx, retry); err != nil {
		t.Fatalf("expected retry claim to succeed, got %v", err)
	}

	records, err := tr.List(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].RetryCount != 1 {
		t.Fatalf("expected single record with retry_count=1, got %+v", records)
	}
}

func TestMemoryTracker_CountSubmittedToday(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	rec := application.New("u1", "j1", "Go Engineer", "Acme", 80, nil)
	if err := tr.UpsertAttempt(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.MarkResult(ctx, "u1", "j1", application.StatusSubmitted, "c1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := tr.CountSubmittedToday(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

// TestMemoryTracker_CountSubmittedToday_RollingWindow pins down that the
// window is a rolling 24h against submitted_at, not a calendar-day bucket:
// a submission from just over a day ago must drop out even though it
// happened on the same calendar day the lookback started, and one from just
// under a day ago must still count even if it crossed midnight.
func TestMemoryTracker_CountSubmittedToday_RollingWindow(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	justOutside := time.Now().Add(-25 * time.Hour)
	justInside := time.Now().Add(-23 * time.Hour)

	tr.mu.Lock()
	tr.items[recordKey{"u1", "old"}] = application.Record{
		UserID: "u1", JobID: "old", Status: application.StatusSubmitted, SubmittedAt: &justOutside,
	}
	tr.items[recordKey{"u1", "recent"}] = application.Record{
		UserID: "u1", JobID: "recent", Status: application.StatusSubmitted, SubmittedAt: &justInside,
	}
	tr.mu.Unlock()

	count, err := tr.CountSubmittedToday(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the sub-24h record to count, got %d", count)
	}
}
