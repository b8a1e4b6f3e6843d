package eventbus

import (
	"testing"
	"time"

	"github.com/applyloop/agent/internal/domain/run"
)

func TestBus_PublishAssignsMonotonicSeq(t *testing.T) {
	b := New(Config{})

	e1 := b.Publish(run.Event{UserID: "u1", Type: run.EventWorkflowStarted})
	e2 := b.Publish(run.Event{UserID: "u1", Type: run.EventStageUpdate})

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("expected seq 1, 2, got %d, %d", e1.Seq, e2.Seq)
	}
}

func TestBus_SubscribeReceivesReplayThenLive(t *testing.T) {
	b := New(Config{})

	b.Publish(run.Event{UserID: "u1", Type: run.EventWorkflowStarted})

	ch, unsub := b.Subscribe("u1", 0)
	defer unsub()

	select {
	case e := <-ch:
		if e.Type != run.EventWorkflowStarted {
			t.Fatalf("expected replayed workflow_started, got %v", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed event")
	}

	b.Publish(run.Event{UserID: "u1", Type: run.EventJobsFetched})
	select {
	case e := <-ch:
		if e.Type != run.EventJobsFetched {
			t.Fatalf("expected live jobs_fetched, got %v", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestBus_SubscribeSinceSeqSkipsOlderReplay(t *testing.T) {
	b := New(Config{})

	b.Publish(run.Event{UserID: "u1", Type: run.EventWorkflowStarted})
	second := b.Publish(run.Event{UserID: "u1", Type: run.EventJobsFetched})

	ch, unsub := b.Subscribe("u1", 1)
	defer unsub()

	select {
	case e := <-ch:
		if e.Seq != second.Seq {
			t.Fatalf("expected only events after seq 1, got seq %d", e.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestBus_SlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	b := New(Config{PendingLimit: 1})

	ch, unsub := b.Subscribe("u1", 0)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(run.Event{UserID: "u1", Type: run.EventStageUpdate})
	}

	// The channel should be closed (subscriber dropped) since nobody drained it.
	select {
	case _, ok := <-ch:
		if ok {
			// drained one buffered event; channel should close once drained further
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestBus_Prune_RemovesStreamAfterTerminalGrace(t *testing.T) {
	b := New(Config{TerminalGrace: 10 * time.Millisecond})
	b.Publish(run.Event{UserID: "u1", Type: run.EventWorkflowCompleted})

	time.Sleep(20 * time.Millisecond)
	b.Prune()

	b.mu.Lock()
	_, exists := b.streams["u1"]
	b.mu.Unlock()
	if exists {
		t.Fatalf("expected stream to be pruned after terminal grace period")
	}
}
