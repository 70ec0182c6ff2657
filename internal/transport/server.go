// ABOUTME: WebSocket endpoint that upgrades HTTP requests into client connections.
// ABOUTME: Owns each connection's read loop and feeds frames to the Router.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Defaults for ServerConfig.
const (
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxMessageSize = 1 << 20
)

// Authenticator verifies an upgrade request and returns the principal ID.
// An empty ID with a nil error accepts the request anonymously.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// ServerConfig holds configuration for creating a Server.
type ServerConfig struct {
	Registry       *Registry
	Router         *Router
	Authenticator  Authenticator
	Logger         *slog.Logger
	WriteTimeout   time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool

	// ConnContext derives the context handed to handlers for conn.
	ConnContext func(ctx context.Context, conn *Connection) context.Context
}

// Server is an http.Handler serving WebSocket clients.
type Server struct {
	registry       *Registry
	router         *Router
	authenticator  Authenticator
	logger         *slog.Logger
	writeTimeout   time.Duration
	maxMessageSize int64
	connContext    func(ctx context.Context, conn *Connection) context.Context
	upgrader       websocket.Upgrader
	baseCtx        context.Context
}

// NewServer creates a Server. Connection contexts derive from base, so
// cancelling base cancels every in-flight handler.
func NewServer(base context.Context, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		registry:       cfg.Registry,
		router:         cfg.Router,
		authenticator:  cfg.Authenticator,
		logger:         logger.With("component", "websocket"),
		writeTimeout:   cfg.WriteTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		connContext:    cfg.ConnContext,
		baseCtx:        base,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP authenticates, upgrades and serves one client until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var principalID string
	if s.authenticator != nil {
		id, err := s.authenticator.Authenticate(r)
		if err != nil {
			s.logger.Warn("upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principalID = id
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(uuid.NewString(), newWSSocket(ws, s.writeTimeout), ClientInfo{
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		PrincipalID: principalID,
	}, s.logger)

	ws.SetReadLimit(s.maxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	if s.connContext != nil {
		ctx = s.connContext(ctx, conn)
	}

	if err := s.registry.Add(ctx, conn); err != nil {
		s.logger.Error("failed to register connection", "client_id", conn.ID, "error", err)
		_ = conn.Terminate()
		return
	}

	reason := s.readLoop(ctx, ws, conn)
	s.registry.Remove(context.WithoutCancel(ctx), conn.ID, reason)
}

// readLoop reads frames until the socket fails and returns the close reason.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) string {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return closeReason(err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.router.Dispatch(ctx, conn, data)
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("closed with code %d", ce.Code)
	}
	return "connection lost: " + err.Error()
}
