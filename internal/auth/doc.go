// ABOUTME: Package auth authenticates WebSocket upgrades with bearer tokens.
// ABOUTME: This file contains package-level documentation.

// Package auth provides authentication for toolgate clients.
//
// # Tokens
//
// Clients authenticate with HS256-signed JWTs. The principal is taken from
// the "sub" claim and becomes the connection's PrincipalID:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("ci-bot", 24*time.Hour)
//
// # Upgrades
//
// HTTPAuthenticator checks the Authorization header and falls back to a
// "token" query parameter, since browsers cannot set headers on WebSocket
// upgrades. When auth is optional, requests without a token are accepted
// anonymously but a token that is present must still verify.
package auth
