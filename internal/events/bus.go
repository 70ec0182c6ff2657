// ABOUTME: Subscriber-list event bus for gateway lifecycle notifications.
// ABOUTME: A failing or panicking listener never prevents the others from running.

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	ToolExecuted       Type = "tool:executed"
	ErrorOccurred      Type = "error:occurred"
	ClientConnected    Type = "client:connected"
	ClientDisconnected Type = "client:disconnected"
)

// Event is one lifecycle notification. Fields that do not apply to the
// event's Type are left empty.
type Event struct {
	Type      Type
	Time      time.Time
	Operation string
	RequestID string
	ClientID  string
	Duration  time.Duration
	ErrorKind string
	Error     string
	Reason    string
}

// Listener observes events.
type Listener func(ctx context.Context, ev Event) error

type subscription struct {
	id       uint64
	listener Listener
	types    map[Type]struct{} // empty means all types
}

// Bus fans events out to subscribed listeners.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates a Bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "events")}
}

// Subscribe registers l for the given event types, or for every type when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(l Listener, types ...Type) (unsubscribe func()) {
	sub := &subscription{listener: l, types: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every matching listener. Time is filled in when zero.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.types) > 0 {
			if _, ok := s.types[ev.Type]; !ok {
				continue
			}
		}
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := b.call(ctx, s.listener, ev); err != nil {
			b.logger.Warn("event listener failed",
				"event", string(ev.Type),
				"subscription", s.id,
				"error", err,
			)
		}
	}
}

// call runs one listener, converting a panic into an error.
func (b *Bus) call(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, ev)
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
