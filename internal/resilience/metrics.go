// ABOUTME: Running per-operation invocation metrics with a Prometheus mirror.
// ABOUTME: Counters only accumulate; there is no reset short of a restart.

package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutionMetric is the accumulated record for one operation.
type ExecutionMetric struct {
	InvocationCount    uint64        `json:"invocation_count"`
	CumulativeDuration time.Duration `json:"cumulative_duration_ns"`
	ErrorCount         uint64        `json:"error_count"`
	LastExecutedAt     time.Time     `json:"last_executed_at"`
}

// AverageDuration returns the mean duration per invocation.
func (m ExecutionMetric) AverageDuration() time.Duration {
	if m.InvocationCount == 0 {
		return 0
	}
	return m.CumulativeDuration / time.Duration(m.InvocationCount)
}

// Recorder accumulates ExecutionMetrics and mirrors them to Prometheus.
type Recorder struct {
	mu      sync.RWMutex
	metrics map[string]*ExecutionMetric
	clock   Clock

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rejections  *prometheus.CounterVec
	breakers    *prometheus.GaugeVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
// A nil reg keeps the collectors private, which is what tests want.
func NewRecorder(reg prometheus.Registerer, clock Clock) (*Recorder, error) {
	r := &Recorder{
		metrics: make(map[string]*ExecutionMetric),
		clock:   clockOrSystem(clock),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "Pipeline runs that reached validation, by outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Subsystem: "tools",
			Name:      "invocation_duration_seconds",
			Help:      "Time from pipeline entry to outcome",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "tools",
			Name:      "rejections_total",
			Help:      "Calls turned away before execution, by reason",
		}, []string{"operation", "reason"}),
		breakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Subsystem: "tools",
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"operation"}),
	}

	if reg == nil {
		return r, nil
	}

	var err error
	if r.invocations, err = register(reg, r.invocations); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.rejections, err = register(reg, r.rejections); err != nil {
		return nil, err
	}
	if r.breakers, err = register(reg, r.breakers); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Record adds one invocation to name's metric.
func (r *Recorder) Record(name string, d time.Duration, failed bool) {
	r.mu.Lock()
	m, ok := r.metrics[name]
	if !ok {
		m = &ExecutionMetric{}
		r.metrics[name] = m
	}
	m.InvocationCount++
	m.CumulativeDuration += d
	if failed {
		m.ErrorCount++
	}
	m.LastExecutedAt = r.clock.Now()
	r.mu.Unlock()

	outcome := "success"
	if failed {
		outcome = "error"
	}
	r.invocations.WithLabelValues(name, outcome).Inc()
	r.duration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordRejection counts a call refused by the rate limiter or breaker.
// It does not touch the ExecutionMetric.
func (r *Recorder) RecordRejection(name, reason string) {
	r.rejections.WithLabelValues(name, reason).Inc()
}

// ObserveBreaker publishes a breaker state change.
func (r *Recorder) ObserveBreaker(name string, state BreakerState) {
	var v float64
	switch state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	r.breakers.WithLabelValues(name).Set(v)
}

// Get returns a copy of name's metric.
func (r *Recorder) Get(name string) (ExecutionMetric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.metrics[name]
	if !ok {
		return ExecutionMetric{}, false
	}
	return *m, true
}

// Snapshot returns copies of every metric keyed by operation name.
func (r *Recorder) Snapshot() map[string]ExecutionMetric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ExecutionMetric, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = *m
	}
	return out
}

// Names returns the operations that have metrics, sorted.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
