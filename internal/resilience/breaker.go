// ABOUTME: Per-operation three-state circuit breaker (closed, open, half-open).
// ABOUTME: Open breakers promote lazily to half-open and admit a single trial call.

package resilience

import (
	"sync"
	"time"
)

// BreakerState is the state of one operation's circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// CircuitPolicy configures when a breaker opens and how long it stays open.
type CircuitPolicy struct {
	FailureThreshold int
	RecoveryTime     time.Duration
}

// BreakerSnapshot is a point-in-time copy of one breaker.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureAt       time.Time    `json:"last_failure_at,omitempty"`
}

type breaker struct {
	state         BreakerState
	failures      int
	lastFailureAt time.Time
	trialInFlight bool
}

// BreakerSet holds one breaker per operation name.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	enabled  bool
	clock    Clock

	// onTransition is called with the lock held; it must not call back into the set.
	onTransition func(name string, from, to BreakerState)
}

// BreakerOption customizes a BreakerSet.
type BreakerOption func(*BreakerSet)

// WithTransitionHook registers fn to observe state changes.
func WithTransitionHook(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(s *BreakerSet) { s.onTransition = fn }
}

// NewBreakerSet creates a BreakerSet. When enabled is false every call is
// admitted and no state is ever recorded.
func NewBreakerSet(enabled bool, clock Clock, opts ...BreakerOption) *BreakerSet {
	s := &BreakerSet{
		breakers: make(map[string]*breaker),
		enabled:  enabled,
		clock:    clockOrSystem(clock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the set records state.
func (s *BreakerSet) Enabled() bool {
	return s.enabled
}

// Admit reports whether a call to name may proceed. An open breaker whose
// recovery time has elapsed is promoted to half-open and the caller becomes
// the trial; everyone else is rejected until the trial reports back.
func (s *BreakerSet) Admit(name string, policy CircuitPolicy) bool {
	if !s.enabled {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(name)
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if s.clock.Now().Sub(b.lastFailureAt) > policy.RecoveryTime {
			s.transition(name, b, StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (s *BreakerSet) RecordSuccess(name string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(name)
	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		s.transition(name, b, StateClosed)
	}
}

// RecordFailure counts a failure. A failed trial reopens the breaker; a closed
// breaker opens once failures reach the policy threshold.
func (s *BreakerSet) RecordFailure(name string, policy CircuitPolicy) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(name)
	b.failures++
	b.lastFailureAt = s.clock.Now()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		s.transition(name, b, StateOpen)
	case StateClosed:
		if b.failures >= policy.FailureThreshold {
			s.transition(name, b, StateOpen)
		}
	}
}

// Release ends an admitted call that produced no verdict. The breaker state
// and failure count are left alone; a half-open breaker admits a new trial.
func (s *BreakerSet) Release(name string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		b.trialInFlight = false
	}
}

// State returns a snapshot of the breaker for name. Unknown names are closed.
func (s *BreakerSet) State(name string) BreakerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		return BreakerSnapshot{State: StateClosed}
	}
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailureAt,
	}
}

// get returns the breaker for name, creating a closed one. Caller holds mu.
func (s *BreakerSet) get(name string) *breaker {
	b, ok := s.breakers[name]
	if !ok {
		b = &breaker{state: StateClosed}
		s.breakers[name] = b
	}
	return b
}

// transition moves b to the given state. Caller holds mu.
func (s *BreakerSet) transition(name string, b *breaker, to BreakerState) {
	from := b.state
	b.state = to
	if s.onTransition != nil && from != to {
		s.onTransition(name, from, to)
	}
}
