// Package resilience holds the per-operation protection state used by the
// invocation pipeline.
//
// # Overview
//
// Three independent components, all keyed by operation name:
//
//   - RateLimiter: fixed-window request counter
//   - BreakerSet: three-state circuit breaker (closed, open, half-open)
//   - Recorder: running invocation metrics, mirrored to Prometheus
//
// None of these components know about each other. The pipeline in
// internal/tools updates them in lockstep on every call.
//
// # Rate Limiting
//
// The limiter opens a window [now, now+Window) on the first call for a name
// and counts admissions inside it. Once now passes the window end the window
// is restarted from scratch, so a burst of 2×MaxRequests straddling a window
// boundary is admitted. This is a fixed-window limiter, not a sliding one.
//
// # Circuit Breaking
//
//	closed --(failures >= threshold)--> open
//	open --(recovery time elapsed, checked at admission)--> half-open
//	half-open --(trial succeeds)--> closed
//	half-open --(trial fails)--> open
//
// Only one trial call is admitted while half-open. Other callers are rejected
// until the trial reports back.
//
// # Clocks
//
// Every component takes a Clock so tests can drive window and recovery timing
// without sleeping.
//
// # Thread Safety
//
// All types are safe for concurrent use. Each admission or record step runs
// under a single mutex, so it is atomic with respect to other calls on the
// same operation.
package resilience
