package reconciler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/applyloop/agent/internal/domain/application"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/portal"
	"github.com/applyloop/agent/internal/retry"
)

type fakeTracker struct {
	stale   []application.Record
	listErr error

	marked  []markCall
	markErr error
}

type markCall struct {
	userID, jobID          string
	status                 application.Status
	confirmationID, errMsg string
}

func (f *fakeTracker) ListStale(ctx context.Context, olderThan time.Duration) ([]application.Record, error) {
	return f.stale, f.listErr
}

func (f *fakeTracker) MarkResult(ctx context.Context, userID, jobID string, status application.Status, confirmationID, errMsg string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, markCall{userID, jobID, status, confirmationID, errMsg})
	return nil
}

type fakePortal struct {
	records map[string]portal.ApplicationRecord
	err     error
}

func (f *fakePortal) ListJobs(ctx context.Context, filters posting.ListFilters) ([]posting.Job, error) {
	return nil, nil
}

func (f *fakePortal) Submit(ctx context.Context, req retry.SubmitRequest) (retry.Outcome, error) {
	return nil, nil
}

func (f *fakePortal) GetApplication(ctx context.Context, confirmationID string) (portal.ApplicationRecord, error) {
	if f.err != nil {
		return portal.ApplicationRecord{}, f.err
	}
	rec, ok := f.records[confirmationID]
	if !ok {
		return portal.ApplicationRecord{}, application.ErrNotFound
	}
	return rec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweepOnce_StuckWithoutConfirmation_MarksFailed(t *testing.T) {
	tr := &fakeTracker{stale: []application.Record{
		{UserID: "u1", JobID: "j1", Status: application.StatusQueued},
	}}
	p := &fakePortal{}

	r := New(Config{}, tr, p, nil, testLogger())
	r.sweepOnce(context.Background())

	if len(tr.marked) != 1 {
		t.Fatalf("expected 1 MarkResult call, got %d", len(tr.marked))
	}
	got := tr.marked[0]
	if got.status != application.StatusFailed || got.confirmationID != "" {
		t.Fatalf("expected failed/no-confirmation mark, got %#v", got)
	}
}

func TestSweepOnce_SubmittedMismatch_UpdatesToPortalTruth(t *testing.T) {
	tr := &fakeTracker{stale: []application.Record{
		{UserID: "u1", JobID: "j1", Status: application.StatusSubmitted, ConfirmationID: "c1"},
	}}
	p := &fakePortal{records: map[string]portal.ApplicationRecord{
		"c1": {ConfirmationID: "c1", Status: "failed", JobID: "j1"},
	}}

	r := New(Config{}, tr, p, nil, testLogger())
	r.sweepOnce(context.Background())

	if len(tr.marked) != 1 {
		t.Fatalf("expected 1 MarkResult call, got %d", len(tr.marked))
	}
	if tr.marked[0].status != application.StatusFailed {
		t.Fatalf("expected portal's failed status to win, got %#v", tr.marked[0])
	}
}

func TestSweepOnce_SubmittedAgrees_NoUpdate(t *testing.T) {
	tr := &fakeTracker{stale: []application.Record{
		{UserID: "u1", JobID: "j1", Status: application.StatusSubmitted, ConfirmationID: "c1"},
	}}
	p := &fakePortal{records: map[string]portal.ApplicationRecord{
		"c1": {ConfirmationID: "c1", Status: "submitted", JobID: "j1"},
	}}

	r := New(Config{}, tr, p, nil, testLogger())
	r.sweepOnce(context.Background())

	if len(tr.marked) != 0 {
		t.Fatalf("expected no MarkResult calls, got %d", len(tr.marked))
	}
}

func TestSweepOnce_PortalLookupFails_SkipsWithoutMarking(t *testing.T) {
	tr := &fakeTracker{stale: []application.Record{
		{UserID: "u1", JobID: "j1", Status: application.StatusSubmitted, ConfirmationID: "c1"},
	}}
	p := &fakePortal{err: context.DeadlineExceeded}

	r := New(Config{}, tr, p, nil, testLogger())
	r.sweepOnce(context.Background())

	if len(tr.marked) != 0 {
		t.Fatalf("expected no MarkResult calls on portal failure, got %d", len(tr.marked))
	}
}

func TestSweepOnce_ListStaleFails_NoPanic(t *testing.T) {
	tr := &fakeTracker{listErr: context.DeadlineExceeded}
	p := &fakePortal{}

	r := New(Config{}, tr, p, nil, testLogger())
	r.sweepOnce(context.Background())

	if len(tr.marked) != 0 {
		t.Fatalf("expected no MarkResult calls, got %d", len(tr.marked))
	}
}
