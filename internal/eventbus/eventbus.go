// Package eventbus fans out a user's Run events to SSE subscribers, keeping
// a bounded replay buffer so a client that reconnects mid-run can catch up.
package eventbus

import (
	"sync"
	"time"

	"github.com/applyloop/agent/internal/domain/run"
)

const (
	defaultReplayWindow  = 256
	defaultPendingLimit  = 128
	defaultTerminalGrace = 5 * time.Second
)

type subscriber struct {
	ch     chan run.Event
	closed bool
}

// userStream holds one user's ring buffer of recent events plus its live
// subscribers. Every Publish call increments seq strictly monotonically.
type userStream struct {
	mu          sync.Mutex
	seq         uint64
	replay      []run.Event
	replayStart int // ring buffer logical offset of replay[0]
	subs        map[*subscriber]struct{}
	terminalAt  *time.Time
}

type Config struct {
	ReplayWindow  int
	PendingLimit  int
	TerminalGrace time.Duration
}

// Bus is a process-wide registry of per-user event streams, modeled on the
// teacher's single global jobsCh producer/consumer channel, generalized to
// one broadcaster per user.
type Bus struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*userStream
}

func New(cfg Config) *Bus {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = defaultReplayWindow
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = defaultPendingLimit
	}
	if cfg.TerminalGrace <= 0 {
		cfg.TerminalGrace = defaultTerminalGrace
	}
	return &Bus{
		cfg:     cfg,
		streams: make(map[string]*userStream),
	}
}

func (b *Bus) streamFor(userID string) *userStream {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[userID]
	if !ok {
		s = &userStream{subs: make(map[*subscriber]struct{})}
		b.streams[userID] = s
	}
	return s
}

// Publish assigns the next sequence number to evt and fans it out to every
// live subscriber for evt.UserID, dropping any subscriber whose pending
// queue is full rather than blocking the publisher.
func (b *Bus) Publish(evt run.Event) run.Event {
	s := b.streamFor(evt.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	evt.Seq = s.seq

	s.replay = append(s.replay, evt)
	if len(s.replay) > b.cfg.ReplayWindow {
		s.replay = s.replay[len(s.replay)-b.cfg.ReplayWindow:]
		s.replayStart = int(s.seq) - len(s.replay)
	}

	if isTerminal(evt.Type) {
		now := time.Now()
		s.terminalAt = &now
	}

	for sub := range s.subs {
		select {
		case sub.ch <- evt:
		default:
			// pending queue full: drop the slow subscriber rather than block
			// the publisher.
			b.removeLocked(s, sub)
		}
	}

	return evt
}

// Subscribe returns a channel of events for userID starting after sinceSeq
// (0 means from the beginning of the replay buffer), plus an unsubscribe
// func the caller must invoke when done.
func (b *Bus) Subscribe(userID string, sinceSeq uint64) (<-chan run.Event, func()) {
	s := b.streamFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{ch: make(chan run.Event, b.cfg.PendingLimit)}
	s.subs[sub] = struct{}{}

	for _, evt := range s.replay {
		if evt.Seq > sinceSeq {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		b.removeLocked(s, sub)
	}

	return sub.ch, unsubscribe
}

func (b *Bus) removeLocked(s *userStream, sub *subscriber) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
}

// Prune drops any user stream whose terminal event is older than the
// configured grace period, so reconnecting clients have a short window to
// observe the final event before the stream disappears.
func (b *Bus) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, s := range b.streams {
		s.mu.Lock()
		expired := s.terminalAt != nil && time.Since(*s.terminalAt) > b.cfg.TerminalGrace
		s.mu.Unlock()
		if expired {
			delete(b.streams, userID)
		}
	}
}

func isTerminal(t run.EventType) bool {
	return t == run.EventWorkflowCompleted || t == run.EventWorkflowFailed
}
