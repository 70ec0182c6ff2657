// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithPrincipal/PrincipalFromContext for propagating identity via context

package auth

import (
	"context"
)

// Principal is the authenticated identity behind a connection.
type Principal struct {
	ID        string
	Anonymous bool
}

type principalKey struct{}

// WithPrincipal returns a new context with p attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the Principal from ctx, returning nil if not present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
