// ABOUTME: Gateway orchestrator that wires the pipeline, transport and ledger
// ABOUTME: Manages the HTTP listener, liveness prober, and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/builtins"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/events"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/resilience"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/tools"
	"github.com/2389/toolgate/internal/transport"
)

// Capabilities announced to clients in the welcome notification.
var Capabilities = []string{"tools", "broadcast", "prompt"}

// Gateway orchestrates the toolgate server components.
type Gateway struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	// serverID identifies this gateway instance
	serverID  string
	startedAt time.Time

	bus      *events.Bus
	metrics  *prometheus.Registry
	recorder *resilience.Recorder
	tools    *tools.Registry
	pipeline *tools.Pipeline

	connections *transport.Registry
	router      *transport.Router
	wsServer    *transport.Server
	prober      *transport.Prober

	// ledger is nil when ledger.path is empty
	ledger     store.Ledger
	ledgerSink *store.Subscriber

	authenticator *auth.HTTPAuthenticator
	httpServer    *http.Server

	// mcpServer is nil when mcp.enabled is false
	mcpServer *mcp.Server

	// baseCtx parents every connection context; cancelled on shutdown
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithVersion sets the version reported by server/info.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// New creates a Gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	gw := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		version:    "dev",
		serverID:   cfg.Server.ServerID,
		startedAt:  time.Now(),
		bus:        events.NewBus(logger),
		metrics:    prometheus.NewRegistry(),
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
	}
	for _, opt := range opts {
		opt(gw)
	}

	if err := gw.initPipeline(logger); err != nil {
		cancelBase()
		return nil, err
	}
	gw.initTransport(logger)

	if err := gw.initLedger(logger); err != nil {
		cancelBase()
		return nil, err
	}

	if err := builtins.Register(gw.tools,
		builtins.BasePack(),
		builtins.ConnectionsPack(gw.connections, gw.router),
	); err != nil {
		gw.closeLedger()
		cancelBase()
		return nil, fmt.Errorf("registering builtin packs: %w", err)
	}
	gw.registerMethods()

	if cfg.MCP.Enabled {
		if err := gw.initMCP(logger); err != nil {
			gw.closeLedger()
			cancelBase()
			return nil, err
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return gw, nil
}

func (g *Gateway) initPipeline(logger *slog.Logger) error {
	g.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder, err := resilience.NewRecorder(g.metrics, nil)
	if err != nil {
		return fmt.Errorf("creating metrics recorder: %w", err)
	}
	g.recorder = recorder

	cb := g.config.Gateway.CircuitBreaker
	breakers := resilience.NewBreakerSet(cb.Enabled, nil,
		resilience.WithTransitionHook(func(name string, from, to resilience.BreakerState) {
			recorder.ObserveBreaker(name, to)
			g.logger.Warn("circuit breaker transition", "operation", name, "from", from, "to", to)
		}),
	)

	g.tools = tools.NewRegistry(logger.With("component", "tools"),
		tools.WithDefaultTimeout(g.config.Gateway.DefaultTimeout))

	pipeline, err := tools.NewPipeline(tools.PipelineConfig{
		Registry: g.tools,
		Limiter:  resilience.NewRateLimiter(nil),
		Breakers: breakers,
		Recorder: recorder,
		Bus:      g.bus,
		Logger:   logger,
		DefaultCircuit: resilience.CircuitPolicy{
			FailureThreshold: cb.FailureThreshold,
			RecoveryTime:     cb.RecoveryTime,
		},
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	g.pipeline = pipeline
	return nil
}

func (g *Gateway) initTransport(logger *slog.Logger) {
	tc := g.config.Transport

	g.connections = transport.NewRegistry(g.bus, Capabilities, logger)
	g.router = transport.NewRouter(transport.RouterConfig{
		Registry:             g.connections,
		Logger:               logger,
		BroadcastConcurrency: tc.BroadcastConcurrency,
	})
	g.prober = transport.NewProber(g.connections, tc.PingInterval, logger)

	if g.config.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		g.authenticator = auth.NewHTTPAuthenticator(verifier, g.config.Auth.RequireAuth)
	}

	serverCfg := transport.ServerConfig{
		Registry:       g.connections,
		Router:         g.router,
		Logger:         logger,
		WriteTimeout:   tc.WriteTimeout,
		MaxMessageSize: tc.MaxMessageSize,
		ConnContext:    connContext,
	}
	if g.authenticator != nil {
		serverCfg.Authenticator = g.authenticator
	}
	g.wsServer = transport.NewServer(g.baseCtx, serverCfg)
}

// connContext tags handler contexts with the caller and principal.
func connContext(ctx context.Context, conn *transport.Connection) context.Context {
	ctx = tools.WithCaller(ctx, conn.ID)
	principal := &auth.Principal{ID: conn.Info.PrincipalID, Anonymous: conn.Info.PrincipalID == ""}
	return auth.WithPrincipal(ctx, principal)
}

func (g *Gateway) initLedger(logger *slog.Logger) error {
	path := g.config.Ledger.Path
	if path == "" {
		return nil
	}

	ledger, err := store.NewSQLiteLedger(path, logger)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	g.ledger = ledger
	g.ledgerSink = store.NewSubscriber(ledger, 0, logger)
	g.bus.Subscribe(g.ledgerSink.Listener())

	g.logger.Info("ledger enabled", "path", path)
	return nil
}

func (g *Gateway) initMCP(logger *slog.Logger) error {
	mcpCfg := mcp.Config{
		Pipeline:   g.pipeline,
		Logger:     logger,
		ServerName: g.serverID,
		Version:    g.version,
	}
	if g.authenticator != nil {
		mcpCfg.Authenticator = g.authenticator
	}
	server, err := mcp.NewServer(mcpCfg)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	g.mcpServer = server
	return nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint and API.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.HandlerFor(g.metrics, promhttp.HandlerOpts{
			Registry: g.metrics,
		}))
	}

	mux.Handle("GET "+g.config.Server.WSPath, g.wsServer)
	mux.Handle("GET /api/tools", g.requireAuth(http.HandlerFunc(g.handleListTools)))
	if g.ledger != nil {
		mux.Handle("GET /api/ledger", g.requireAuth(http.HandlerFunc(g.handleLedger)))
	}

	// MCP has its own session-bound auth
	if g.mcpServer != nil {
		g.mcpServer.RegisterRoutes(mux)
	}
	return mux
}

// ServerID returns the configured server identifier.
func (g *Gateway) ServerID() string { return g.serverID }

// Tools returns the operation registry.
func (g *Gateway) Tools() *tools.Registry { return g.tools }

// Pipeline returns the invocation pipeline.
func (g *Gateway) Pipeline() *tools.Pipeline { return g.pipeline }

// Connections returns the connection registry.
func (g *Gateway) Connections() *transport.Registry { return g.connections }

// Router returns the message router.
func (g *Gateway) Router() *transport.Router { return g.router }

// Bus returns the lifecycle event bus.
func (g *Gateway) Bus() *events.Bus { return g.bus }

// RegisterTool registers def and routes it under its own name.
func (g *Gateway) RegisterTool(def tools.Definition) error {
	if err := g.tools.Register(def); err != nil {
		return err
	}
	g.routeTool(def.Name)
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
// Returns nil on graceful shutdown, or an error if a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("starting gateway",
		"server_id", g.serverID,
		"http_addr", ln.Addr().String(),
		"ws_path", g.config.Server.WSPath,
		"tools", g.tools.Len(),
	)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return g.prober.Run(gctx)
	})

	// The ledger outlives the listener so disconnect events from shutdown
	// are still recorded.
	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	defer stopLedger()
	if g.ledgerSink != nil {
		group.Go(func() error {
			return g.ledgerSink.Run(ledgerCtx)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		err := g.gracefulShutdown()
		stopLedger()
		return err
	})

	return group.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every connection and waits for
// in-flight handlers. The ledger is closed by Close once its subscriber
// has flushed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "connections", g.connections.Len())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.connections.CloseAll(ctx, "server shutting down")
	g.cancelBase()

	waited := make(chan struct{})
	go func() {
		g.router.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for handlers: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

// Close releases the ledger. Call after Run returns.
func (g *Gateway) Close() error {
	g.cancelBase()
	return g.closeLedger()
}

func (g *Gateway) closeLedger() error {
	if g.ledger == nil {
		return nil
	}
	return g.ledger.Close()
}
