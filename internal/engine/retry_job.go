package engine

import (
	"context"
	"errors"

	"github.com/applyloop/agent/internal/domain/match"
	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
	"github.com/applyloop/agent/internal/domain/run"
)

var (
	ErrNoPriorContext = errors.New("no prior profile/policy context for user")
	ErrJobNotFound    = errors.New("job not found in current portal listing")
	ErrNoTrackedJob   = errors.New("job not tracked for user")
)

// ProcessSingleJob reprocesses exactly one job for userID outside of a full
// Run, for the tracker's /retry endpoint. It is a mini-Run: it emits the
// same stage events on the user's existing event stream but does not touch
// the Run registry or cursor, modeled on the teacher's Worker.ProcessOne
// single-job claim+execute+mark path.
func (e *Engine) ProcessSingleJob(ctx context.Context, userID string, prof profile.Profile, pol policy.Policy, job posting.Job, score float64) {
	h := &runHandle{}
	h.run = run.New(userID, 1)

	m := match.Match{JobID: job.ID, Score: score}
	e.processJob(ctx, h, userID, prof, pol, job, m, 1, 1)
}

// Retry resolves everything ProcessSingleJob needs for userID/jobID from
// the user's last Start context and the tracker/portal, then runs the
// mini-Run synchronously. Called from the /tracker/applications/retry
// handler, which itself runs this in its own goroutine so it doesn't block
// the HTTP response.
func (e *Engine) Retry(ctx context.Context, userID, jobID string) error {
	prof, pol, ok := e.LastContext(userID)
	if !ok {
		return ErrNoPriorContext
	}

	records, err := e.tracker.List(ctx, userID, nil)
	if err != nil {
		return err
	}
	var score float64
	found := false
	for _, r := range records {
		if r.JobID == jobID {
			score = r.MatchScore
			found = true
			break
		}
	}
	if !found {
		return ErrNoTrackedJob
	}

	jobs, err := e.portalAdapter.ListJobs(ctx, posting.ListFilters{})
	if err != nil {
		return err
	}
	var job posting.Job
	found = false
	for _, j := range jobs {
		if j.ID == jobID {
			job = j
			found = true
			break
		}
	}
	if !found {
		return ErrJobNotFound
	}

	e.ProcessSingleJob(ctx, userID, prof, pol, job, score)
	return nil
}
