// ABOUTME: Per-call execution context carried through middleware and handlers.
// ABOUTME: Created at pipeline entry and discarded once the outcome is produced.

package tools

import (
	"context"
	"maps"
	"sync"
	"time"
)

// ExecutionContext describes one in-flight call.
type ExecutionContext struct {
	Operation string
	RequestID string
	CallerID  string
	StartTime time.Time

	mu       sync.RWMutex
	metadata map[string]any
}

// Set stores a metadata value.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.metadata == nil {
		ec.metadata = make(map[string]any)
	}
	ec.metadata[key] = value
}

// Get returns a metadata value.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata bag.
func (ec *ExecutionContext) Metadata() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return maps.Clone(ec.metadata)
}

type executionKey struct{}

type callerKey struct{}

// WithExecution attaches ec to ctx.
func WithExecution(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionKey{}, ec)
}

// ExecutionFromContext returns the ExecutionContext of the current call, or nil.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(executionKey{}).(*ExecutionContext)
	return ec
}

// WithCaller records which client is making the call.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerFromContext returns the caller recorded by WithCaller.
func CallerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}
