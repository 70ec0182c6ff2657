// ABOUTME: Tests for the fixed-window rate limiter.
// ABOUTME: Covers window exhaustion, reset after the window, and boundary bursts.

package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_EchoScenario(t *testing.T) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	limiter := NewRateLimiter(clock)
	policy := &RateLimitPolicy{Window: time.Second, MaxRequests: 2}

	assert.True(t, limiter.Admit("echo", policy))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, limiter.Admit("echo", policy))
	clock.Advance(100 * time.Millisecond)
	assert.False(t, limiter.Admit("echo", policy), "third call inside the window must be rejected")

	clock.Advance(time.Second)
	assert.True(t, limiter.Admit("echo", policy), "call after the window must be admitted")

	w, ok := limiter.Snapshot("echo")
	require.True(t, ok)
	assert.Equal(t, 1, w.Count, "fresh window starts at one")
}

func TestRateLimiter_RejectionDoesNotConsume(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	limiter := NewRateLimiter(clock)
	policy := &RateLimitPolicy{Window: time.Minute, MaxRequests: 1}

	require.True(t, limiter.Admit("op", policy))
	for i := 0; i < 5; i++ {
		assert.False(t, limiter.Admit("op", policy))
	}

	w, _ := limiter.Snapshot("op")
	assert.Equal(t, 1, w.Count)
}

func TestRateLimiter_WindowEndIsExclusive(t *testing.T) {
	start := time.Unix(0, 0)
	clock := NewManualClock(start)
	limiter := NewRateLimiter(clock)
	policy := &RateLimitPolicy{Window: time.Second, MaxRequests: 1}

	require.True(t, limiter.Admit("op", policy))
	clock.Advance(time.Second - time.Nanosecond)
	assert.False(t, limiter.Admit("op", policy))
	clock.Advance(time.Nanosecond)
	assert.True(t, limiter.Admit("op", policy), "now == window end starts a new window")
}

func TestRateLimiter_BoundaryBurst(t *testing.T) {
	// Fixed windows admit up to 2×max across a boundary.
	clock := NewManualClock(time.Unix(0, 0))
	limiter := NewRateLimiter(clock)
	policy := &RateLimitPolicy{Window: time.Second, MaxRequests: 3}

	require.True(t, limiter.Admit("op", policy))
	clock.Advance(900 * time.Millisecond)
	require.True(t, limiter.Admit("op", policy))
	require.True(t, limiter.Admit("op", policy))

	clock.Advance(100 * time.Millisecond)
	admitted := 0
	for i := 0; i < 5; i++ {
		if limiter.Admit("op", policy) {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestRateLimiter_OperationsAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(NewManualClock(time.Unix(0, 0)))
	policy := &RateLimitPolicy{Window: time.Second, MaxRequests: 1}

	assert.True(t, limiter.Admit("a", policy))
	assert.True(t, limiter.Admit("b", policy))
	assert.False(t, limiter.Admit("a", policy))
}

func TestRateLimiter_NilPolicyAlwaysAdmits(t *testing.T) {
	limiter := NewRateLimiter(nil)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Admit("free", nil))
	}
	_, ok := limiter.Snapshot("free")
	assert.False(t, ok)
}

func TestRateLimiter_ConcurrentAdmissionsRespectMax(t *testing.T) {
	limiter := NewRateLimiter(NewManualClock(time.Unix(0, 0)))
	policy := &RateLimitPolicy{Window: time.Hour, MaxRequests: 25}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit("shared", policy) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, admitted)
}
