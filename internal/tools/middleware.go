// ABOUTME: Parameter middleware applied in registration order before execution.
// ABOUTME: Also provides handler wrappers composed at registration time.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Middleware transforms or inspects params before the handler runs. Returning
// nil params leaves the current params unchanged. Returning an error aborts
// the call with MiddlewareError.
type Middleware func(ctx context.Context, ec *ExecutionContext, params json.RawMessage) (json.RawMessage, error)

// Chain applies middleware in order, feeding each the output of the last.
func Chain(ctx context.Context, ec *ExecutionContext, params json.RawMessage, mws []Middleware) (json.RawMessage, error) {
	for i, mw := range mws {
		out, err := mw(ctx, ec, params)
		if err != nil {
			return nil, fmt.Errorf("middleware %d: %w", i, err)
		}
		if out != nil {
			params = out
		}
	}
	return params, nil
}

// Defaults fills missing top-level fields of an object input with the given
// values. Non-object input is passed through unchanged.
func Defaults(values map[string]any) Middleware {
	return func(_ context.Context, _ *ExecutionContext, params json.RawMessage) (json.RawMessage, error) {
		var obj map[string]any
		if err := json.Unmarshal(normalizeParams(params), &obj); err != nil || obj == nil {
			return nil, nil
		}
		changed := false
		for k, v := range values {
			if _, ok := obj[k]; !ok {
				obj[k] = v
				changed = true
			}
		}
		if !changed {
			return nil, nil
		}
		return json.Marshal(obj)
	}
}

// Annotate stores key on the execution context using fn's result.
func Annotate(key string, fn func(params json.RawMessage) any) Middleware {
	return func(_ context.Context, ec *ExecutionContext, params json.RawMessage) (json.RawMessage, error) {
		ec.Set(key, fn(params))
		return nil, nil
	}
}

// MaxInputSize rejects params larger than limit bytes.
func MaxInputSize(limit int) Middleware {
	return func(_ context.Context, _ *ExecutionContext, params json.RawMessage) (json.RawMessage, error) {
		if len(params) > limit {
			return nil, fmt.Errorf("input is %d bytes, limit is %d", len(params), limit)
		}
		return nil, nil
	}
}

// Logging logs every call's params size at debug level before execution.
func Logging(logger *slog.Logger) Middleware {
	return func(_ context.Context, ec *ExecutionContext, params json.RawMessage) (json.RawMessage, error) {
		logger.Debug("invoking tool",
			"operation", ec.Operation,
			"request_id", ec.RequestID,
			"caller", ec.CallerID,
			"params_bytes", len(params),
		)
		return nil, nil
	}
}

// Timing wraps h so every execution is logged with its duration.
func Timing(logger *slog.Logger, h Handler) Handler {
	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		start := time.Now()
		out, err := h(ctx, params)

		attrs := []any{"duration", time.Since(start)}
		if ec := ExecutionFromContext(ctx); ec != nil {
			attrs = append(attrs, "operation", ec.Operation, "request_id", ec.RequestID)
		}
		if err != nil {
			logger.Debug("handler finished with error", append(attrs, "error", err)...)
		} else {
			logger.Debug("handler finished", attrs...)
		}
		return out, err
	}
}
