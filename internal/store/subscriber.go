// ABOUTME: Bridges the event bus to a Ledger through a bounded queue.
// ABOUTME: Events are dropped rather than blocking the emitter when the queue is full.

package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/toolgate/internal/events"
)

// Entry kinds, matching the event types they are recorded from.
const (
	KindExecuted     = string(events.ToolExecuted)
	KindError        = string(events.ErrorOccurred)
	KindConnected    = string(events.ClientConnected)
	KindDisconnected = string(events.ClientDisconnected)
)

// Subscriber writes bus events to a Ledger from a single goroutine.
type Subscriber struct {
	ledger  Ledger
	queue   chan events.Event
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewSubscriber creates a Subscriber with a queue of the given size.
func NewSubscriber(ledger Ledger, buffer int, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Subscriber{
		ledger: ledger,
		queue:  make(chan events.Event, buffer),
		logger: logger.With("component", "ledger-subscriber"),
	}
}

// Listener returns the events.Listener to subscribe on the bus.
func (s *Subscriber) Listener() events.Listener {
	return func(_ context.Context, ev events.Event) error {
		select {
		case s.queue <- ev:
		default:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("ledger queue full, dropping events", "dropped_total", n)
			}
		}
		return nil
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Run writes queued events until ctx is cancelled, then flushes what is
// already queued and returns.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.queue:
			s.write(ctx, ev)
		case <-ctx.Done():
			s.flush()
			return nil
		}
	}
}

func (s *Subscriber) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.queue:
			s.write(ctx, ev)
		default:
			return
		}
	}
}

func (s *Subscriber) write(ctx context.Context, ev events.Event) {
	entry := &Entry{
		Kind:      string(ev.Type),
		Operation: ev.Operation,
		RequestID: ev.RequestID,
		ClientID:  ev.ClientID,
		Duration:  ev.Duration,
		ErrorKind: ev.ErrorKind,
		Error:     ev.Error,
		Reason:    ev.Reason,
		CreatedAt: ev.Time,
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record ledger entry", "kind", entry.Kind, "error", err)
	}
}
