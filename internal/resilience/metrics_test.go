// ABOUTME: Tests for the invocation metrics recorder and its Prometheus mirror.
// ABOUTME: Verifies accumulation and that rejections stay out of ExecutionMetric.

package resilience

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Accumulates(t *testing.T) {
	clock := NewManualClock(time.Unix(100, 0))
	rec, err := NewRecorder(nil, clock)
	require.NoError(t, err)

	rec.Record("op", 10*time.Millisecond, false)
	clock.Advance(time.Second)
	rec.Record("op", 30*time.Millisecond, true)

	m, ok := rec.Get("op")
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.InvocationCount)
	assert.Equal(t, uint64(1), m.ErrorCount)
	assert.Equal(t, 40*time.Millisecond, m.CumulativeDuration)
	assert.Equal(t, 20*time.Millisecond, m.AverageDuration())
	assert.Equal(t, time.Unix(101, 0), m.LastExecutedAt)
}

func TestRecorder_RejectionsDoNotTouchMetric(t *testing.T) {
	rec, err := NewRecorder(nil, nil)
	require.NoError(t, err)

	rec.RecordRejection("op", "rate_limited")
	_, ok := rec.Get("op")
	assert.False(t, ok)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.rejections.WithLabelValues("op", "rate_limited")), 0)
}

func TestRecorder_PrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg, nil)
	require.NoError(t, err)

	rec.Record("op", time.Millisecond, false)
	rec.Record("op", time.Millisecond, true)
	rec.ObserveBreaker("op", StateOpen)

	assert.InDelta(t, 1, testutil.ToFloat64(rec.invocations.WithLabelValues("op", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.invocations.WithLabelValues("op", "error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(rec.breakers.WithLabelValues("op")), 0)

	// A second recorder on the same registry shares the collectors.
	again, err := NewRecorder(reg, nil)
	require.NoError(t, err)
	again.Record("op", time.Millisecond, false)
	assert.InDelta(t, 2, testutil.ToFloat64(rec.invocations.WithLabelValues("op", "success")), 0)
}

func TestRecorder_SnapshotAndNames(t *testing.T) {
	rec, err := NewRecorder(nil, nil)
	require.NoError(t, err)

	rec.Record("b", time.Millisecond, false)
	rec.Record("a", time.Millisecond, false)

	assert.Equal(t, []string{"a", "b"}, rec.Names())
	snap := rec.Snapshot()
	assert.Len(t, snap, 2)

	// Snapshot is a copy.
	m := snap["a"]
	m.InvocationCount = 99
	got, _ := rec.Get("a")
	assert.Equal(t, uint64(1), got.InvocationCount)
}
