// ABOUTME: Registry of live client connections.
// ABOUTME: Emits connect and disconnect events exactly once per connection.

package transport

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/toolgate/internal/events"
)

// ErrConnectionExists indicates a connection with the same ID is already registered.
var ErrConnectionExists = errors.New("connection already registered")

// ErrConnectionNotFound indicates the specified connection was not found.
var ErrConnectionNotFound = errors.New("connection not found")

// Welcome is the params payload of the notification sent on connect.
type Welcome struct {
	ClientID     string   `json:"clientId"`
	ServerTime   int64    `json:"serverTime"`
	Capabilities []string `json:"capabilities"`
}

// Registry tracks connected clients.
type Registry struct {
	conns        map[string]*Connection
	mu           sync.RWMutex
	bus          *events.Bus
	capabilities []string
	logger       *slog.Logger
}

// NewRegistry creates a Registry. capabilities are announced in the welcome
// notification. A nil bus creates a private one.
func NewRegistry(bus *events.Bus, capabilities []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Registry{
		conns:        make(map[string]*Connection),
		bus:          bus,
		capabilities: capabilities,
		logger:       logger.With("component", "connections"),
	}
}

// Add registers conn, emits client:connected and sends the welcome notification.
// Returns ErrConnectionExists if the ID is taken.
func (r *Registry) Add(ctx context.Context, conn *Connection) error {
	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return ErrConnectionExists
	}
	r.conns[conn.ID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("=== CLIENT CONNECTED ===",
		"client_id", conn.ID,
		"remote_addr", conn.Info.RemoteAddr,
		"principal", conn.Info.PrincipalID,
		"total_clients", total,
	)
	r.bus.Emit(ctx, events.Event{Type: events.ClientConnected, ClientID: conn.ID})

	welcome, err := NewNotification("welcome", Welcome{
		ClientID:     conn.ID,
		ServerTime:   Now(),
		Capabilities: r.capabilities,
	})
	if err != nil {
		return err
	}
	if err := conn.Send(welcome); err != nil {
		r.logger.Warn("failed to send welcome", "client_id", conn.ID, "error", err)
	}
	return nil
}

// Remove unregisters the connection and emits client:disconnected.
// Returns false if it was already gone, in which case nothing is emitted.
func (r *Registry) Remove(ctx context.Context, id, reason string) bool {
	r.mu.Lock()
	conn, exists := r.conns[id]
	if exists {
		delete(r.conns, id)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !exists {
		return false
	}

	_ = conn.Terminate()
	r.logger.Info("=== CLIENT DISCONNECTED ===",
		"client_id", id,
		"reason", reason,
		"requests", conn.RequestCount(),
		"connected_for", time.Since(conn.ConnectedAt).Round(time.Millisecond),
		"total_clients", total,
	)
	r.bus.Emit(ctx, events.Event{Type: events.ClientDisconnected, ClientID: id, Reason: reason})
	return true
}

// CloseAll closes every connection gracefully and removes it.
func (r *Registry) CloseAll(ctx context.Context, reason string) {
	for _, conn := range r.List() {
		if err := conn.Close(reason); err != nil {
			r.logger.Debug("close failed", "client_id", conn.ID, "error", err)
		}
		r.Remove(ctx, conn.ID, reason)
	}
}

// Get retrieves a connection by ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// List returns every registered connection.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Snapshot returns public info for every connection, oldest first.
func (r *Registry) Snapshot() []ConnectionInfo {
	conns := r.List()
	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
