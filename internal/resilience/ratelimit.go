// ABOUTME: Fixed-window rate limiter keyed by operation name.
// ABOUTME: Windows reset wholesale once the current time passes the window end.

package resilience

import (
	"sync"
	"time"
)

// RateLimitPolicy bounds how many calls an operation admits per window.
type RateLimitPolicy struct {
	Window      time.Duration
	MaxRequests int
}

// Window is the live counting window for one operation.
type Window struct {
	Count int
	Start time.Time
	End   time.Time
}

// RateLimiter counts admissions per operation in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*Window
	clock   Clock
}

// NewRateLimiter creates a RateLimiter. A nil clock uses the system clock.
func NewRateLimiter(clock Clock) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*Window),
		clock:   clockOrSystem(clock),
	}
}

// Admit reports whether a call to the named operation may proceed under policy.
// A nil policy always admits and leaves no state behind.
func (l *RateLimiter) Admit(name string, policy *RateLimitPolicy) bool {
	if policy == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[name]
	if !ok || !now.Before(w.End) {
		l.windows[name] = &Window{
			Count: 1,
			Start: now,
			End:   now.Add(policy.Window),
		}
		return policy.MaxRequests > 0
	}

	// Rejections leave the counter alone.
	if w.Count >= policy.MaxRequests {
		return false
	}
	w.Count++
	return true
}

// Snapshot returns a copy of the current window for name.
func (l *RateLimiter) Snapshot(name string) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[name]
	if !ok {
		return Window{}, false
	}
	return *w, true
}
