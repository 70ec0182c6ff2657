// ABOUTME: Invocation pipeline: rate limit, breaker, validation, middleware, timed handler.
// ABOUTME: Produces exactly one outcome per call and records metrics, breaker state and events.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/events"
	"github.com/2389/toolgate/internal/resilience"
)

// DefaultCircuit applies to operations that declare no circuit policy.
var DefaultCircuit = resilience.CircuitPolicy{
	FailureThreshold: 5,
	RecoveryTime:     60 * time.Second,
}

// PipelineConfig holds configuration for creating a Pipeline.
type PipelineConfig struct {
	Registry *Registry
	Limiter  *resilience.RateLimiter
	Breakers *resilience.BreakerSet
	Recorder *resilience.Recorder
	Bus      *events.Bus
	Logger   *slog.Logger

	// DefaultCircuit is used for definitions with no Circuit policy.
	// Zero value means the package DefaultCircuit.
	DefaultCircuit resilience.CircuitPolicy

	// NewRequestID generates per-call ids. Defaults to uuid.NewString.
	NewRequestID func() string
}

// Pipeline executes registered operations.
type Pipeline struct {
	registry       *Registry
	limiter        *resilience.RateLimiter
	breakers       *resilience.BreakerSet
	recorder       *resilience.Recorder
	bus            *events.Bus
	logger         *slog.Logger
	defaultCircuit resilience.CircuitPolicy
	newID          func() string
}

// NewPipeline creates a Pipeline. Registry is required; missing collaborators
// are created with their defaults.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = resilience.NewRateLimiter(nil)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewBreakerSet(true, nil)
	}
	if cfg.Recorder == nil {
		rec, err := resilience.NewRecorder(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("pipeline: creating recorder: %w", err)
		}
		cfg.Recorder = rec
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(logger)
	}
	if cfg.DefaultCircuit == (resilience.CircuitPolicy{}) {
		cfg.DefaultCircuit = DefaultCircuit
	}
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = uuid.NewString
	}

	return &Pipeline{
		registry:       cfg.Registry,
		limiter:        cfg.Limiter,
		breakers:       cfg.Breakers,
		recorder:       cfg.Recorder,
		bus:            cfg.Bus,
		logger:         logger.With("component", "pipeline"),
		defaultCircuit: cfg.DefaultCircuit,
		newID:          cfg.NewRequestID,
	}, nil
}

// Registry returns the registry the pipeline dispatches to.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Recorder returns the metrics recorder.
func (p *Pipeline) Recorder() *resilience.Recorder { return p.recorder }

// Breakers returns the breaker set.
func (p *Pipeline) Breakers() *resilience.BreakerSet { return p.breakers }

// Invoke runs one call of the named operation. Failures are always *Error.
func (p *Pipeline) Invoke(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	requestID := p.newID()

	def, ok := p.registry.Get(name)
	if !ok {
		return nil, newError(KindMethodNotFound, name, requestID, "tool not found: "+name, nil)
	}

	if !p.limiter.Admit(name, def.RateLimit) {
		p.recorder.RecordRejection(name, "rate_limited")
		p.logger.Warn("call rejected by rate limiter", "operation", name, "request_id", requestID)
		return nil, newError(KindRateLimitExceeded, name, requestID,
			fmt.Sprintf("rate limit exceeded for %s", name), nil)
	}

	policy := p.circuitFor(def)
	if !p.breakers.Admit(name, policy) {
		p.recorder.RecordRejection(name, "circuit_open")
		p.logger.Warn("call rejected by open circuit", "operation", name, "request_id", requestID)
		return nil, newError(KindCircuitOpen, name, requestID,
			fmt.Sprintf("circuit breaker open for %s", name), nil)
	}

	ec := &ExecutionContext{
		Operation: name,
		RequestID: requestID,
		CallerID:  CallerFromContext(ctx),
		StartTime: time.Now(),
	}
	ctx = WithExecution(ctx, ec)

	result, terr := p.run(ctx, def, ec, params)
	elapsed := time.Since(ec.StartTime)

	if terr != nil {
		p.recorder.Record(name, elapsed, true)
		if callerGone(ctx, terr) {
			// The operation did not fail; the caller left. A pending
			// half-open trial is released so the next call can retry it.
			p.breakers.Release(name)
			p.logger.Warn("tool call abandoned by caller",
				"operation", name,
				"request_id", requestID,
				"duration", elapsed,
			)
		} else {
			p.breakers.RecordFailure(name, policy)
			p.logger.Error("tool call failed",
				"operation", name,
				"request_id", requestID,
				"kind", terr.Kind,
				"duration", elapsed,
				"error", terr.Message,
			)
		}
		p.bus.Emit(ctx, events.Event{
			Type:      events.ErrorOccurred,
			Operation: name,
			RequestID: requestID,
			ClientID:  ec.CallerID,
			Duration:  elapsed,
			ErrorKind: string(terr.Kind),
			Error:     terr.Message,
		})
		return nil, terr
	}

	p.recorder.Record(name, elapsed, false)
	p.breakers.RecordSuccess(name)
	p.logger.Debug("tool call succeeded", "operation", name, "request_id", requestID, "duration", elapsed)
	p.bus.Emit(ctx, events.Event{
		Type:      events.ToolExecuted,
		Operation: name,
		RequestID: requestID,
		ClientID:  ec.CallerID,
		Duration:  elapsed,
	})
	return result, nil
}

// callerGone reports whether terr stems from the caller cancelling ctx rather
// than from the operation itself.
func callerGone(ctx context.Context, terr *Error) bool {
	return terr.Kind == KindHandlerError &&
		errors.Is(terr, context.Canceled) &&
		errors.Is(ctx.Err(), context.Canceled)
}

func (p *Pipeline) circuitFor(def *Definition) resilience.CircuitPolicy {
	if def.Circuit != nil {
		return *def.Circuit
	}
	return p.defaultCircuit
}

// run executes validation, middleware and the handler. Admission has
// already happened. A panic in validation or middleware becomes that stage's
// failure kind.
func (p *Pipeline) run(ctx context.Context, def *Definition, ec *ExecutionContext, params json.RawMessage) (out json.RawMessage, terr *Error) {
	stage := KindInvalidInput
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tool stage panicked",
				"operation", def.Name,
				"request_id", ec.RequestID,
				"kind", stage,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out, terr = nil, newError(stage, def.Name, ec.RequestID, fmt.Sprintf("%s panic: %v", stageLabel[stage], r), nil)
		}
	}()

	if err := def.Validator.Validate(params); err != nil {
		return nil, newError(KindInvalidInput, def.Name, ec.RequestID, err.Error(), err)
	}

	stage = KindMiddlewareError
	params, err := Chain(ctx, ec, params, def.Middleware)
	if err != nil {
		return nil, newError(KindMiddlewareError, def.Name, ec.RequestID, err.Error(), err)
	}

	stage = KindHandlerError
	return p.execute(ctx, def, ec, params)
}

var stageLabel = map[Kind]string{
	KindInvalidInput:    "validator",
	KindMiddlewareError: "middleware",
	KindHandlerError:    "handler",
}

type handlerResult struct {
	out json.RawMessage
	err error
}

// execute races the handler against its deadline.
func (p *Pipeline) execute(ctx context.Context, def *Definition, ec *ExecutionContext, params json.RawMessage) (json.RawMessage, *Error) {
	ctx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("tool handler panicked",
					"operation", def.Name,
					"request_id", ec.RequestID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := def.Handler(ctx, params)
		done <- handlerResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, timeoutError(def, ec)
			}
			return nil, newError(KindHandlerError, def.Name, ec.RequestID, res.err.Error(), res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(def, ec)
		}
		return nil, newError(KindHandlerError, def.Name, ec.RequestID, "call cancelled", ctx.Err())
	}
}

func timeoutError(def *Definition, ec *ExecutionContext) *Error {
	return newError(KindExecutionTimeout, def.Name, ec.RequestID,
		fmt.Sprintf("%s timed out after %s", def.Name, def.Timeout), context.DeadlineExceeded)
}
