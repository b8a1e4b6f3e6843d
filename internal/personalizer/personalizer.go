// Package personalizer wraps the external personalization collaborator
// behind a circuit breaker and implements the in-engine evidence grounder.
package personalizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/applyloop/agent/internal/domain/personalization"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// Personalizer is the external collaborator: given a profile and a job, it
// proposes a cover letter and an evidence map the engine must verify.
type Personalizer interface {
	Personalize(ctx context.Context, prof profile.Profile, job posting.Job) (personalization.Personalization, error)
}

type ProtectedPersonalizerConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	HalfOpenMaxCalls int
}

// ProtectedPersonalizer decorates a Personalizer with a closed/open/half-open
// circuit breaker so a flaky or overloaded collaborator fails fast instead
// of stalling the engine's job loop.
type ProtectedPersonalizer struct {
	inner Personalizer
	cfg   ProtectedPersonalizerConfig
	mu    sync.Mutex

	state string // "closed" | "open" | "half_open"

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedPersonalizer(inner Personalizer, cfg ProtectedPersonalizerConfig) *ProtectedPersonalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedPersonalizer{
		inner: inner,
		cfg:   cfg,
		state: "closed",
	}
}

// IsOpen reports whether the breaker is currently rejecting calls, for
// metrics polling.
func (p *ProtectedPersonalizer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == "open"
}

func (p *ProtectedPersonalizer) Personalize(ctx context.Context, prof profile.Profile, job posting.Job) (personalization.Personalization, error) {
	if !p.allowRequest() {
		return personalization.Personalization{}, ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	result, err := p.inner.Personalize(callCtx, prof, job)

	p.afterRequest(err)

	return result, err
}

func (p *ProtectedPersonalizer) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case "closed":
		return true
	case "open":
		if time.Since(p.openedAt) >= p.cfg.Cooldown {
			p.state = "half_open"
			p.halfOpenInFlight = 0
			return true
		}
		return false
	case "half_open":
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			return false
		}
		p.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (p *ProtectedPersonalizer) afterRequest(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == "half_open" && p.halfOpenInFlight > 0 {
		p.halfOpenInFlight--
	}

	if err == nil {
		p.consecutiveFailures = 0
		p.state = "closed"
		return
	}

	p.consecutiveFailures++

	if p.state == "half_open" {
		p.state = "open"
		p.openedAt = time.Now()
		return
	}

	if p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.state = "open"
		p.openedAt = time.Now()
	}
}
