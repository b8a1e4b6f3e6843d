package engine

import (
	"context"
	"log/slog"

	"github.com/applyloop/agent/internal/domain/application"
	"github.com/applyloop/agent/internal/domain/match"
	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
	"github.com/applyloop/agent/internal/domain/run"
	"github.com/applyloop/agent/internal/policygate"
	"github.com/applyloop/agent/internal/retry"
)

// execute is the Run's top-level goroutine: fetch jobs, rank, then drive
// each job through the stage machine in ranker order. Modeled on the
// teacher's runWorker/execute pair, generalized from a shared job queue to
// one user's ranked apply queue.
func (e *Engine) execute(ctx context.Context, h *runHandle, userID string, prof profile.Profile, pol policy.Policy, filters posting.ListFilters) {
	h.mu.Lock()
	killed := h.run.KillRequested
	h.run = run.New(userID, 0)
	h.run.KillRequested = killed
	h.mu.Unlock()
	e.publish(ctx, userID, run.NewEvent(userID, run.EventWorkflowStarted))

	jobs, err := e.portalAdapter.ListJobs(ctx, filters)
	if err != nil {
		e.finishRun(ctx, h, userID, run.StatusFailed, err.Error())
		return
	}

	matches, err := e.ranker.Rank(ctx, prof, jobs, pol)
	if err != nil {
		e.finishRun(ctx, h, userID, run.StatusFailed, err.Error())
		return
	}

	jobByID := make(map[string]posting.Job, len(jobs))
	for _, j := range jobs {
		jobByID[j.ID] = j
	}

	h.mu.Lock()
	h.run.Total = len(matches)
	h.mu.Unlock()

	e.publish(ctx, userID, startEvent(userID, len(matches)))

	for i, m := range matches {
		if e.killRequested(h) {
			e.finishRun(ctx, h, userID, run.StatusStopped, "")
			return
		}

		job, ok := jobByID[m.JobID]
		if !ok {
			continue
		}

		h.mu.Lock()
		h.run.Cursor = i + 1
		h.mu.Unlock()

		if halted := e.processJob(ctx, h, userID, prof, pol, job, m, i+1, len(matches)); halted {
			return
		}
	}

	if e.killRequested(h) {
		e.finishRun(ctx, h, userID, run.StatusStopped, "")
		return
	}
	e.finishRun(ctx, h, userID, run.StatusCompleted, "")
}

func (e *Engine) finishRun(ctx context.Context, h *runHandle, userID string, status run.Status, errMsg string) {
	h.mu.Lock()
	h.run.Finish(status)
	if errMsg != "" {
		h.run.Errors = append(h.run.Errors, errMsg)
	}
	snapshot := h.run
	h.mu.Unlock()

	// A Stop is observed at the top of each loop iteration and, inside a
	// job, between submit attempts; a job cut short that way is recorded as
	// failed ("cancelled") and the loop then finishes the run. Either way a
	// stopped run ends with Status "stopped" and the same workflow_completed
	// event as an exhausted queue. workflow_failed is reserved for an actual
	// error (job-fetch/ranker failure).
	var evtType run.EventType
	switch status {
	case run.StatusCompleted, run.StatusStopped:
		evtType = run.EventWorkflowCompleted
	default:
		evtType = run.EventWorkflowFailed
	}

	evt := run.NewEvent(userID, evtType)
	evt.Status = string(status)
	evt.Message = errMsg
	evt.JobsFound = snapshot.Total
	e.publish(ctx, userID, evt)
}

func startEvent(userID string, total int) run.Event {
	evt := run.NewEvent(userID, run.EventJobsFetched)
	evt.JobsFound = total
	return evt
}

// processJob walks a single job through policy_pre → personalizing →
// grounding → policy_post → submitting → tracker_write, emitting a
// stage_update/job_processing/job_skipped/application_result Event at each
// boundary. The returned bool reports whether the Run has already been
// finished (a policy_pre decision that ends the whole run rather than just
// this job) — the caller must stop iterating without calling finishRun
// again when it is true.
func (e *Engine) processJob(ctx context.Context, h *runHandle, userID string, prof profile.Profile, pol policy.Policy, job posting.Job, m match.Match, index, total int) bool {
	processingEvt := run.NewEvent(userID, run.EventJobProcessing)
	processingEvt.JobID = job.ID
	processingEvt.JobTitle = job.Title
	processingEvt.Company = job.Company
	processingEvt.MatchScore = m.Score
	processingEvt.Stage = "policy_pre"
	e.publish(ctx, userID, processingEvt)

	submittedToday, err := e.tracker.CountSubmittedToday(ctx, userID)
	if err != nil {
		e.recordFailure(ctx, h, userID, job, "tracker_unavailable")
		return false
	}

	// Jobs are processed one at a time, so no other attempt is in flight
	// here; this run's earlier submissions are already in submittedToday.
	verdict := policygate.PreCheck(e.killRequested(h), pol, job, m, submittedToday, 0)
	switch verdict.Decision {
	case policygate.DecisionStop:
		if verdict.Reason == policygate.ReasonDailyCapReached {
			// The cap is an expected, self-imposed stopping point, not a
			// cancellation: the run finishes as completed, with the reason
			// recorded on the snapshot rather than dropped.
			e.finishRun(ctx, h, userID, run.StatusCompleted, verdict.Reason)
			return true
		}
		h.mu.Lock()
		h.run.RequestKill()
		h.mu.Unlock()
		return false
	case policygate.DecisionSkip:
		e.recordSkip(ctx, h, userID, job, index, total, verdict.Reason)
		return false
	}

	record := application.New(userID, job.ID, job.Title, job.Company, m.Score, m.Reasons)
	if err := e.tracker.UpsertAttempt(ctx, record); err != nil {
		e.recordSkip(ctx, h, userID, job, index, total, "already_tracked")
		return false
	}

	e.emitStage(ctx, userID, job.ID, "personalizing")
	result, err := e.personalizer.Personalize(ctx, prof, job)
	if err != nil {
		e.recordFailure(ctx, h, userID, job, "personalization_failed")
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusFailed, "", "personalization_failed")
		return false
	}

	e.emitStage(ctx, userID, job.ID, "grounding")
	grounded, ratio := e.grounder.Ground(result, prof)
	groundEvt := run.NewEvent(userID, run.EventStageUpdate)
	groundEvt.JobID = job.ID
	groundEvt.Stage = "grounding"
	groundEvt.Message = ratioMessage(ratio)
	e.publish(ctx, userID, groundEvt)

	postVerdict := policygate.PostGroundCheck(grounded)
	if postVerdict.Decision != policygate.DecisionAllow {
		e.recordSkip(ctx, h, userID, job, index, total, postVerdict.Reason)
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusSkipped, "", postVerdict.Reason)
		return false
	}

	e.emitStage(ctx, userID, job.ID, "submitting")
	submitReq := retry.SubmitRequest{
		UserID:           userID,
		JobID:            job.ID,
		CoverLetter:      grounded.CoverLetter,
		IdempotencyToken: retry.IdempotencyToken(e.cfg.IdempotencySecret, userID, job.ID),
	}

	executor := retry.NewExecutor(e.portalAdapter, retry.Config{
		MaxAttempts: e.cfg.RetryMaxAttempts,
		BackoffBase: e.cfg.RetryBackoffBase,
		BackoffCap:  e.cfg.RetryBackoffCap,
	})
	outcome, err := executor.Run(ctx, submitReq, func() bool { return e.killRequested(h) }, func(attempt int) {
		evt := run.NewEvent(userID, run.EventStageUpdate)
		evt.JobID = job.ID
		evt.Stage = "submitting"
		evt.Message = attemptMessage(attempt)
		e.publish(ctx, userID, evt)
	})

	switch {
	case err == retry.ErrCancelled:
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusFailed, "", "cancelled")
		h.mu.Lock()
		h.run.FailedCount++
		h.mu.Unlock()
		return false
	case err != nil:
		e.recordFailure(ctx, h, userID, job, err.Error())
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusFailed, "", err.Error())
		return false
	}

	e.recordOutcome(ctx, h, userID, job, outcome)
	return false
}

func (e *Engine) emitStage(ctx context.Context, userID, jobID, stage string) {
	evt := run.NewEvent(userID, run.EventStageUpdate)
	evt.JobID = jobID
	evt.Stage = stage
	e.publish(ctx, userID, evt)
}

func (e *Engine) recordSkip(ctx context.Context, h *runHandle, userID string, job posting.Job, index, total int, reason string) {
	h.mu.Lock()
	h.run.SkippedCount++
	h.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IncSkipped()
	}

	evt := run.NewEvent(userID, run.EventJobSkipped)
	evt.JobID = job.ID
	evt.JobTitle = job.Title
	evt.Reason = reason
	e.publish(ctx, userID, evt)
}

func (e *Engine) recordFailure(ctx context.Context, h *runHandle, userID string, job posting.Job, reason string) {
	h.mu.Lock()
	h.run.FailedCount++
	h.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IncFailed()
	}

	evt := run.NewEvent(userID, run.EventApplicationResult)
	evt.JobID = job.ID
	evt.JobTitle = job.Title
	evt.Status = string(application.StatusFailed)
	evt.Reason = reason
	e.publish(ctx, userID, evt)

	slog.Default().WarnContext(ctx, "engine.job_failed", "user_id", userID, "job_id", job.ID, "reason", reason)
}

func (e *Engine) recordOutcome(ctx context.Context, h *runHandle, userID string, job posting.Job, outcome retry.Outcome) {
	evt := run.NewEvent(userID, run.EventApplicationResult)
	evt.JobID = job.ID
	evt.JobTitle = job.Title
	if e.metrics != nil {
		e.metrics.IncAttempted()
	}

	switch o := outcome.(type) {
	case retry.Submitted:
		h.mu.Lock()
		h.run.SubmittedCount++
		h.mu.Unlock()
		if e.metrics != nil {
			e.metrics.IncSubmitted()
		}
		evt.Status = string(application.StatusSubmitted)
		evt.ConfirmationID = o.ConfirmationID
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusSubmitted, o.ConfirmationID, "")

	case retry.DuplicateAtPortal:
		evt.Reason = "duplicate"
		if o.ConfirmationID != "" {
			h.mu.Lock()
			h.run.SubmittedCount++
			h.mu.Unlock()
			if e.metrics != nil {
				e.metrics.IncSubmitted()
			}
			evt.Status = string(application.StatusSubmitted)
			evt.ConfirmationID = o.ConfirmationID
			_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusSubmitted, o.ConfirmationID, "")
		} else {
			h.mu.Lock()
			h.run.SkippedCount++
			h.mu.Unlock()
			evt.Type = run.EventJobSkipped
			_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusSkipped, "", "duplicate")
		}

	default:
		h.mu.Lock()
		h.run.FailedCount++
		h.mu.Unlock()
		if e.metrics != nil {
			e.metrics.IncFailed()
		}
		evt.Status = string(application.StatusFailed)
		evt.Reason = "submit_failed"
		_ = e.tracker.MarkResult(ctx, userID, job.ID, application.StatusFailed, "", "submit_failed")
	}

	e.publish(ctx, userID, evt)
}

func ratioMessage(ratio float64) string {
	if ratio >= 1 {
		return "all claims grounded"
	}
	return "ungrounded claims present"
}

func attemptMessage(attempt int) string {
	switch attempt {
	case 1:
		return "attempt 1"
	default:
		return "retry"
	}
}
