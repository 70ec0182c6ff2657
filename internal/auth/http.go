// ABOUTME: HTTP authentication for WebSocket upgrade requests
// ABOUTME: Extracts bearer tokens from the Authorization header or token query parameter

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingToken indicates a request carried no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// HTTPAuthenticator authenticates upgrade requests with a TokenVerifier.
type HTTPAuthenticator struct {
	verifier TokenVerifier
	required bool
}

// NewHTTPAuthenticator creates an authenticator. When required is false,
// requests without any token are accepted as anonymous.
func NewHTTPAuthenticator(verifier TokenVerifier, required bool) *HTTPAuthenticator {
	return &HTTPAuthenticator{verifier: verifier, required: required}
}

// Authenticate returns the principal ID for r, or "" for an accepted anonymous request.
func (a *HTTPAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, problem := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		if !a.required {
			return "", nil
		}
		if problem == "" {
			problem = "missing authorization header"
		}
		return "", fmt.Errorf("%w: %s", ErrMissingToken, problem)
	}

	principalID, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return principalID, nil
}

// extractBearerToken extracts the token from a "Bearer <token>" header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
