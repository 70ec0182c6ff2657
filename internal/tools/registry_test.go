// ABOUTME: Tests for the operation registry.
// ABOUTME: Covers registration validation, duplicates, defaults, and listing order.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/resilience"
)

func okHandler(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	return params, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Register(Definition{
		Name:        "echo",
		Description: "Echo the input",
		Handler:     okHandler,
	})
	require.NoError(t, err)

	def, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", def.Name)
	assert.Equal(t, DefaultTimeout, def.Timeout)
	assert.JSONEq(t, `{"type":"object"}`, string(def.InputSchema))
	assert.NotNil(t, def.Validator)
	assert.True(t, reg.Has("echo"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Definition{Name: "echo", Handler: okHandler}))

	err := reg.Register(Definition{Name: "echo", Handler: okHandler})
	assert.True(t, errors.Is(err, ErrToolExists))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"missing name", Definition{Handler: okHandler}},
		{"missing handler", Definition{Name: "x"}},
		{"bad schema", Definition{Name: "x", Handler: okHandler, InputSchema: json.RawMessage(`{"type":`)}},
		{"zero window", Definition{Name: "x", Handler: okHandler, RateLimit: &resilience.RateLimitPolicy{MaxRequests: 1}}},
		{"zero max", Definition{Name: "x", Handler: okHandler, RateLimit: &resilience.RateLimitPolicy{Window: time.Second}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(nil).Register(tt.def)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestRegistry_StoresCopy(t *testing.T) {
	reg := NewRegistry(nil)
	policy := &resilience.RateLimitPolicy{Window: time.Second, MaxRequests: 2}
	require.NoError(t, reg.Register(Definition{Name: "echo", Handler: okHandler, RateLimit: policy}))

	policy.MaxRequests = 100

	def, _ := reg.Get("echo")
	assert.Equal(t, 2, def.RateLimit.MaxRequests)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(
		Definition{Name: "zeta", Handler: okHandler},
		Definition{Name: "alpha", Description: "first", Handler: okHandler},
		Definition{Name: "mid", Handler: okHandler},
	)

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "first", infos[0].Description)
	assert.Equal(t, "mid", infos[1].Name)
	assert.Equal(t, "zeta", infos[2].Name)
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Panics(t, func() {
		reg.MustRegister(
			Definition{Name: "echo", Handler: okHandler},
			Definition{Name: "echo", Handler: okHandler},
		)
	})
}

func TestRegistry_DefaultTimeoutOption(t *testing.T) {
	reg := NewRegistry(nil, WithDefaultTimeout(5*time.Second))
	require.NoError(t, reg.Register(Definition{Name: "a", Handler: okHandler}))
	require.NoError(t, reg.Register(Definition{Name: "b", Handler: okHandler, Timeout: time.Second}))

	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	assert.Equal(t, 5*time.Second, a.Timeout)
	assert.Equal(t, time.Second, b.Timeout)
}
