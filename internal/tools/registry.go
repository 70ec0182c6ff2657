// ABOUTME: Thread-safe registry of invocable operations and their policies.
// ABOUTME: Append-only: definitions are immutable once registered.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/2389/toolgate/internal/resilience"
)

// DefaultTimeout bounds handler execution when a definition sets none.
const DefaultTimeout = 30 * time.Second

// ErrToolExists indicates an operation with the same name is already registered.
var ErrToolExists = errors.New("tool already registered")

// ErrInvalidDefinition indicates a definition is missing required fields.
var ErrInvalidDefinition = errors.New("invalid tool definition")

// Handler executes an operation. It must honour ctx cancellation; the
// pipeline stops waiting at the deadline but cannot stop the goroutine.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Definition describes one operation.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	// Validator overrides the validator compiled from InputSchema.
	Validator Validator
	Handler   Handler

	RateLimit  *resilience.RateLimitPolicy
	Circuit    *resilience.CircuitPolicy
	Timeout    time.Duration
	Middleware []Middleware
}

// Info is the public description of an operation.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry maps operation names to definitions.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]*Definition
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTimeout sets the timeout given to definitions that declare none.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:          make(map[string]*Definition),
		defaultTimeout: DefaultTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and stores a copy of def.
// Returns ErrToolExists if the name is taken.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidDefinition, def.Name)
	}
	if def.RateLimit != nil && (def.RateLimit.Window <= 0 || def.RateLimit.MaxRequests <= 0) {
		return fmt.Errorf("%w: %s rate limit needs a positive window and max", ErrInvalidDefinition, def.Name)
	}
	if len(def.InputSchema) == 0 {
		def.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	if def.Validator == nil {
		v, err := CompileSchema(def.Name, def.InputSchema)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
		def.Validator = v
	}
	if def.Timeout <= 0 {
		def.Timeout = r.defaultTimeout
	}

	stored := def
	stored.InputSchema = slices.Clone(def.InputSchema)
	stored.Middleware = slices.Clone(def.Middleware)
	if def.RateLimit != nil {
		rl := *def.RateLimit
		stored.RateLimit = &rl
	}
	if def.Circuit != nil {
		cp := *def.Circuit
		stored.Circuit = &cp
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}
	r.tools[def.Name] = &stored

	r.logger.Info("=== TOOL REGISTERED ===",
		"tool", def.Name,
		"timeout", stored.Timeout,
		"rate_limited", stored.RateLimit != nil,
		"middleware", len(stored.Middleware),
		"total_tools", len(r.tools),
	)
	return nil
}

// MustRegister registers every definition, panicking on the first error.
// Intended for static builtin tables at startup.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns public info for every operation, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, def := range r.tools {
		infos = append(infos, Info{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
