// ABOUTME: HTTP API handlers for health, operation listing, and ledger queries.
// ABOUTME: API routes require a bearer token when auth.require_auth is set.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/toolgate/internal/store"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ServerID    string `json:"serverId"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Tools       int    `json:"tools"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		ServerID:    g.serverID,
		Version:     g.version,
		Connections: g.connections.Len(),
		Tools:       g.tools.Len(),
	})
}

// handleListTools returns every registered operation.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{"tools": g.tools.List()})
}

// LedgerResponse is the JSON response for GET /api/ledger.
type LedgerResponse struct {
	Entries []*store.Entry          `json:"entries"`
	Stats   []*store.OperationStats `json:"stats,omitempty"`
}

// handleLedger returns recent ledger entries.
// Query parameters: kind, operation, client_id, since (RFC 3339), limit, stats=true.
func (g *Gateway) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Kind:      q.Get("kind"),
		Operation: q.Get("operation"),
		ClientID:  q.Get("client_id"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	entries, err := g.ledger.Recent(r.Context(), filter)
	if err != nil {
		g.logger.Error("ledger query failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "ledger query failed")
		return
	}
	resp := LedgerResponse{Entries: entries}

	if q.Get("stats") == "true" {
		stats, err := g.ledger.Stats(r.Context())
		if err != nil {
			g.logger.Error("ledger stats failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "ledger stats failed")
			return
		}
		resp.Stats = stats
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// requireAuth rejects requests the authenticator does not accept.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	if g.authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := g.authenticator.Authenticate(r); err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
