package retry

import (
	"context"
	"testing"
	"time"
)

type scriptedSubmitter struct {
	outcomes []Outcome
	calls    int
}

func (s *scriptedSubmitter) Submit(ctx context.Context, req SubmitRequest) (Outcome, error) {
	o := s.outcomes[s.calls]
	s.calls++
	return o, nil
}

func noSleep(time.Duration) {}

func TestExecutor_SubmittedIsTerminalOnFirstAttempt(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{Submitted{ConfirmationID: "c1"}}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	out, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", sub.calls)
	}
	if _, ok := out.(Submitted); !ok {
		t.Fatalf("expected Submitted, got %T", out)
	}
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{
		Transient5xx{StatusCode: 503},
		Submitted{ConfirmationID: "c1"},
	}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	attempts := 0
	out, err := e.Run(context.Background(), SubmitRequest{}, nil, func(a int) { attempts++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", sub.calls)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 stage reports, got %d", attempts)
	}
	if _, ok := out.(Submitted); !ok {
		t.Fatalf("expected eventual Submitted, got %T", out)
	}
}

func TestExecutor_ExhaustsMaxAttempts(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{
		Transient5xx{}, Transient5xx{}, Transient5xx{},
	}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	out, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != defaultMaxAttempts {
		t.Fatalf("expected %d calls, got %d", defaultMaxAttempts, sub.calls)
	}
	if _, ok := out.(Transient5xx); !ok {
		t.Fatalf("expected final outcome to be Transient5xx, got %T", out)
	}
}

func TestExecutor_ConfiguredMaxAttemptsOverridesDefault(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{
		Transient5xx{}, Transient5xx{}, Transient5xx{}, Transient5xx{}, Transient5xx{},
	}}
	e := NewExecutor(sub, Config{MaxAttempts: 5})
	e.sleep = noSleep

	out, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 5 {
		t.Fatalf("expected 5 calls, got %d", sub.calls)
	}
	if _, ok := out.(Transient5xx); !ok {
		t.Fatalf("expected final outcome to be Transient5xx, got %T", out)
	}
}

func TestExecutor_ConfiguredBackoffBoundsDelay(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{Transient5xx{}, Submitted{ConfirmationID: "c1"}}}
	e := NewExecutor(sub, Config{BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})

	var gotDelay time.Duration
	e.sleep = func(d time.Duration) { gotDelay = d }

	_, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDelay > 2*time.Millisecond {
		t.Fatalf("expected delay capped at 2ms, got %v", gotDelay)
	}
}

func TestExecutor_PermanentClientStopsImmediately(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{PermanentClient{StatusCode: 400, Message: "bad request"}}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	out, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", sub.calls)
	}
	if _, ok := out.(PermanentClient); !ok {
		t.Fatalf("expected PermanentClient, got %T", out)
	}
}

func TestExecutor_TimeoutRetriesOnceThenPermanent(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{Timeout{}, Timeout{}}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	out, err := e.Run(context.Background(), SubmitRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 2 {
		t.Fatalf("expected exactly 2 calls (retry once then stop), got %d", sub.calls)
	}
	if _, ok := out.(Timeout); !ok {
		t.Fatalf("expected Timeout as final outcome, got %T", out)
	}
}

func TestExecutor_KillSwitchCancelsBeforeRetry(t *testing.T) {
	sub := &scriptedSubmitter{outcomes: []Outcome{Transient5xx{}, Transient5xx{}}}
	e := NewExecutor(sub, Config{})
	e.sleep = noSleep

	_, err := e.Run(context.Background(), SubmitRequest{}, func() bool { return true }, nil)
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("expected exactly 1 call before cancellation, got %d", sub.calls)
	}
}

func TestIdempotencyToken_StablePerUserJob(t *testing.T) {
	secret := []byte("shh")
	a := IdempotencyToken(secret, "u1", "j1")
	b := IdempotencyToken(secret, "u1", "j1")
	c := IdempotencyToken(secret, "u1", "j2")

	if a != b {
		t.Fatalf("expected stable token for same (user,job), got %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different tokens for different jobs")
	}
}
