// ABOUTME: Tests for HTTP bearer-token authentication of upgrade requests
// ABOUTME: Covers header and query tokens, optional auth, and header parsing

package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuthenticator(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	valid, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		required bool
		header   string
		query    string
		want     string
		wantErr  error
	}{
		{name: "header token", required: true, header: "Bearer " + valid, want: "alice"},
		{name: "query token", required: true, query: valid, want: "alice"},
		{name: "missing required", required: true, wantErr: ErrMissingToken},
		{name: "wrong scheme required", required: true, header: "Basic abc", wantErr: ErrMissingToken},
		{name: "missing optional", required: false, want: ""},
		{name: "bad token optional", required: false, header: "Bearer nope", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			got, err := NewHTTPAuthenticator(verifier, tt.required).Authenticate(req)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header    string
		wantToken string
		wantErr   string
	}{
		{"", "", "missing authorization header"},
		{"Token abc", "", "invalid authorization header format"},
		{"Bearer ", "", "empty token"},
		{"Bearer abc", "abc", ""},
	}

	for _, tt := range tests {
		token, msg := extractBearerToken(tt.header)
		if token != tt.wantToken || msg != tt.wantErr {
			t.Errorf("extractBearerToken(%q) = (%q, %q), want (%q, %q)", tt.header, token, msg, tt.wantToken, tt.wantErr)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, PrincipalFromContext(ctx))

	ctx = WithPrincipal(ctx, &Principal{ID: "alice"})
	p := PrincipalFromContext(ctx)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.ID)
}
