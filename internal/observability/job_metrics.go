package observability

import (
	"sync/atomic"
	"time"
)

// SubmissionMetrics is an in-process, lock-free counterpart to Prom's
// submission counters — cheap enough for the engine to update on every
// per-job outcome without touching the registry directly. Snapshot reads
// the counters; nothing copies them into Prom's submission collectors.
type SubmissionMetrics struct {
	attempted atomic.Uint64
	submitted atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	retried   atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewSubmissionMetrics() *SubmissionMetrics {
	m := &SubmissionMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *SubmissionMetrics) IncAttempted() {
	m.attempted.Add(1)
}
func (m *SubmissionMetrics) IncSubmitted() {
	m.submitted.Add(1)
}
func (m *SubmissionMetrics) IncFailed() {
	m.failed.Add(1)
}
func (m *SubmissionMetrics) IncSkipped() {
	m.skipped.Add(1)
}
func (m *SubmissionMetrics) IncRetried() {
	m.retried.Add(1)
}

func (m *SubmissionMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()
		if ns <= curr {
			return
		}
		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SubmissionMetricsSnapshot struct {
	Attempted       uint64
	Submitted       uint64
	Failed          uint64
	Skipped         uint64
	Retried         uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *SubmissionMetrics) Snapshot() SubmissionMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return SubmissionMetricsSnapshot{
		Attempted:       m.attempted.Load(),
		Submitted:       m.submitted.Load(),
		Failed:          m.failed.Load(),
		Skipped:         m.skipped.Load(),
		Retried:         m.retried.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
