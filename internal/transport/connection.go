// ABOUTME: Represents a single connected client and the socket it writes to.
// ABOUTME: Tracks liveness, request counts, and pending server-initiated requests.

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed indicates a write to a connection that has been closed.
var ErrConnectionClosed = errors.New("connection closed")

// Socket is the write side of a client connection.
type Socket interface {
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	// Ping sends a protocol-level ping.
	Ping() error
	// Close sends a close frame with reason and closes the socket.
	Close(reason string) error
	// Terminate closes the socket immediately without a close handshake.
	Terminate() error
}

// ClientInfo describes where a connection came from.
type ClientInfo struct {
	RemoteAddr  string `json:"remoteAddr"`
	UserAgent   string `json:"userAgent,omitempty"`
	PrincipalID string `json:"principalId,omitempty"`
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID           string     `json:"id"`
	Alive        bool       `json:"alive"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastPingAt   time.Time  `json:"lastPingAt"`
	RequestCount uint64     `json:"requestCount"`
	Client       ClientInfo `json:"client"`
}

// Connection represents a connected client.
type Connection struct {
	ID          string
	Info        ClientInfo
	ConnectedAt time.Time

	socket     Socket
	alive      atomic.Bool
	lastPingAt atomic.Int64
	requests   atomic.Uint64
	closed     atomic.Bool

	pending map[string]chan *Frame
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewConnection creates a Connection that starts out alive.
func NewConnection(id string, socket Socket, info ClientInfo, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	c := &Connection{
		ID:          id,
		Info:        info,
		ConnectedAt: now,
		socket:      socket,
		pending:     make(map[string]chan *Frame),
		logger:      logger.With("client_id", id),
	}
	c.alive.Store(true)
	c.lastPingAt.Store(now.UnixNano())
	return c
}

// Send marshals f and writes it to the socket.
func (c *Connection) Send(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw writes an already-encoded frame.
func (c *Connection) SendRaw(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := c.socket.WriteMessage(data); err != nil {
		return fmt.Errorf("writing to %s: %w", c.ID, err)
	}
	return nil
}

// Alive reports whether the connection answered since the last probe.
func (c *Connection) Alive() bool { return c.alive.Load() }

// MarkAlive records a pong.
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
	c.lastPingAt.Store(time.Now().UnixNano())
}

// probe clears the alive flag and sends a protocol ping.
func (c *Connection) probe() error {
	c.alive.Store(false)
	return c.socket.Ping()
}

// LastPingAt returns when the connection last proved it was alive.
func (c *Connection) LastPingAt() time.Time {
	return time.Unix(0, c.lastPingAt.Load())
}

// RequestCount returns how many requests this connection has sent.
func (c *Connection) RequestCount() uint64 { return c.requests.Load() }

func (c *Connection) countRequest() { c.requests.Add(1) }

// Snapshot returns a copy of the connection's public state.
func (c *Connection) Snapshot() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.ID,
		Alive:        c.Alive(),
		ConnectedAt:  c.ConnectedAt,
		LastPingAt:   c.LastPingAt(),
		RequestCount: c.RequestCount(),
		Client:       c.Info,
	}
}

// Close closes the socket with a close frame. Safe to call more than once.
func (c *Connection) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.closePending()
	return c.socket.Close(reason)
}

// Terminate drops the socket without a close handshake. Safe to call more than once.
func (c *Connection) Terminate() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.closePending()
	return c.socket.Terminate()
}

// CreateRequest registers a pending server-initiated request.
// The caller is responsible for eventually calling CloseRequest.
func (c *Connection) CreateRequest(requestID string) <-chan *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan *Frame, 1)
	c.pending[requestID] = ch
	return ch
}

// CloseRequest closes and removes the response channel for a request.
func (c *Connection) CloseRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.pending[requestID]; ok {
		close(ch)
		delete(c.pending, requestID)
	}
}

// HandleResponse routes a response frame to its pending request.
// Returns false if no request with that id is waiting.
func (c *Connection) HandleResponse(f *Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[f.ID]
	if !ok {
		c.logger.Warn("received response for unknown request", "request_id", f.ID)
		return false
	}

	select {
	case ch <- f:
	default:
		c.logger.Warn("duplicate response dropped", "request_id", f.ID)
	}
	return true
}

func (c *Connection) closePending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// wsSocket adapts a gorilla websocket connection to Socket.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newWSSocket(conn *websocket.Conn, writeTimeout time.Duration) *wsSocket {
	return &wsSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

func (s *wsSocket) Close(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	return s.conn.Close()
}

func (s *wsSocket) Terminate() error {
	return s.conn.Close()
}
