// Package policygate implements the two safety checkpoints every candidate
// job passes through before and after personalization. Both gates are pure
// functions: no I/O, no side effects, fully table-test friendly.
package policygate

import (
	"strings"

	"github.com/applyloop/agent/internal/domain/match"
	"github.com/applyloop/agent/internal/domain/personalization"
	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionSkip  Decision = "skip"
	DecisionStop  Decision = "stop"
)

// ReasonDailyCapReached is the Stop reason for max_applications_per_day.
// Unlike ReasonKillSwitch, it is a policy outcome rather than a
// cancellation: the engine finishes the Run as completed, not stopped.
const (
	ReasonKillSwitch      = "kill_switch"
	ReasonDailyCapReached = "daily_cap_reached"
)

// Verdict is the gate's outcome; Reason is populated for Skip and Stop.
type Verdict struct {
	Decision Decision
	Reason   string
}

func allow() Verdict           { return Verdict{Decision: DecisionAllow} }
func skip(reason string) Verdict { return Verdict{Decision: DecisionSkip, Reason: reason} }
func stop(reason string) Verdict { return Verdict{Decision: DecisionStop, Reason: reason} }

// PreCheck runs the cheap, pre-personalize checks: kill switch, policy
// disabled, blocked company/role/location, require_remote, score threshold,
// and the daily application cap. submittedToday and inFlight both count
// toward max_applications_per_day.
func PreCheck(killRequested bool, pol policy.Policy, job posting.Job, m match.Match, submittedToday, inFlight int) Verdict {
	if killRequested {
		return stop(ReasonKillSwitch)
	}
	if !pol.Enabled {
		return skip("policy_disabled")
	}
	if _, blocked := pol.BlockedCompanySet()[strings.ToLower(job.Company)]; blocked {
		return skip("blocked_company")
	}
	if containsBlockedRoleType(job.Title, pol.BlockedRoleTypes) {
		return skip("blocked_role_type")
	}
	if pol.RequireRemote && !job.Remote {
		return skip("not_remote")
	}
	if pol.RequiredLocation != "" && !strings.Contains(strings.ToLower(job.Location), strings.ToLower(pol.RequiredLocation)) {
		return skip("location_mismatch")
	}
	if m.Score < float64(pol.MinMatchThreshold) {
		return skip("below_threshold")
	}
	if submittedToday+inFlight >= pol.MaxApplicationsPerDay {
		return stop(ReasonDailyCapReached)
	}
	return allow()
}

// PostGroundCheck is the hard safety invariant: a personalization with any
// ungrounded evidence claim must never reach the Retry Executor.
func PostGroundCheck(p personalization.Personalization) Verdict {
	if p.AnyUngrounded() {
		return skip("ungrounded_claim")
	}
	return allow()
}

// containsBlockedRoleType reports a case-insensitive whole-word match of any
// blocked token against the job title.
func containsBlockedRoleType(title string, blockedRoleTypes []string) bool {
	titleTokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		titleTokens[strings.Trim(tok, ".,;:()")] = struct{}{}
	}
	for _, rt := range blockedRoleTypes {
		if _, ok := titleTokens[strings.ToLower(rt)]; ok {
			return true
		}
	}
	return false
}
