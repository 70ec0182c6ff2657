// ABOUTME: Routes inbound frames to method handlers and correlates responses.
// ABOUTME: Also fans notifications out to every connected client.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBroadcastConcurrency bounds parallel sends during Broadcast.
const DefaultBroadcastConcurrency = 16

// DefaultRequestTimeout bounds server-initiated requests without a deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrRequestAborted indicates a server-initiated request lost its connection.
var ErrRequestAborted = errors.New("request aborted: connection closed")

// HandlerFunc serves one request method. The result is marshaled as the
// response result; a json.RawMessage is sent as-is.
type HandlerFunc func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error)

// NotificationFunc handles one inbound notification method.
type NotificationFunc func(ctx context.Context, conn *Connection, params json.RawMessage)

// CodedError is an error that chooses its own wire representation.
type CodedError interface {
	error
	ErrorCode() int
	ErrorMessage() string
	ErrorData() any
}

// RouterConfig holds configuration for creating a Router.
type RouterConfig struct {
	Registry             *Registry
	Logger               *slog.Logger
	BroadcastConcurrency int
	RequestTimeout       time.Duration
}

// Router dispatches frames for every connection.
type Router struct {
	registry       *Registry
	logger         *slog.Logger
	concurrency    int
	requestTimeout time.Duration

	handlers      map[string]HandlerFunc
	notifications map[string]NotificationFunc
	mu            sync.RWMutex

	inflight sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.BroadcastConcurrency
	if concurrency <= 0 {
		concurrency = DefaultBroadcastConcurrency
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Router{
		registry:       cfg.Registry,
		logger:         logger.With("component", "router"),
		concurrency:    concurrency,
		requestTimeout: timeout,
		handlers:       make(map[string]HandlerFunc),
		notifications:  make(map[string]NotificationFunc),
	}
}

// Handle registers h for request method. A later call replaces the handler.
func (r *Router) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// HandleNotification registers h for notification method.
func (r *Router) HandleNotification(method string, h NotificationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[method] = h
}

// Methods returns the registered request methods, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (r *Router) handler(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Dispatch processes one inbound message from conn. Requests run on their
// own goroutine; everything else is handled inline.
func (r *Router) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	frame, perr := ParseFrame(data)
	if perr != nil {
		r.logger.Warn("rejected malformed frame", "client_id", conn.ID, "code", perr.Code, "error", perr.Message)
		r.reply(conn, NewErrorResponse(perr.ID, perr.Code, perr.Message, nil))
		return
	}

	switch frame.Type {
	case TypeRequest:
		conn.countRequest()
		h, ok := r.handler(frame.Method)
		if !ok {
			r.reply(conn, NewErrorResponse(frame.ID, CodeMethodNotFound,
				fmt.Sprintf("method not found: %s", frame.Method), nil))
			return
		}
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.serve(ctx, conn, frame, h)
		}()

	case TypePing:
		conn.MarkAlive()
		r.reply(conn, &Frame{ID: frame.ID, Type: TypePong, Params: frame.Params, Timestamp: Now()})

	case TypePong:
		conn.MarkAlive()

	case TypeResponse:
		conn.HandleResponse(frame)

	case TypeNotification:
		r.mu.RLock()
		h, ok := r.notifications[frame.Method]
		r.mu.RUnlock()
		if !ok {
			r.logger.Debug("unhandled notification", "client_id", conn.ID, "method", frame.Method)
			return
		}
		h(ctx, conn, frame.Params)
	}
}

// serve runs a request handler and writes exactly one response.
func (r *Router) serve(ctx context.Context, conn *Connection, frame *Frame, h HandlerFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("request handler panicked",
				"client_id", conn.ID,
				"method", frame.Method,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			r.reply(conn, NewErrorResponse(frame.ID, CodeInternalError, fmt.Sprintf("internal error: %v", rec), nil))
		}
	}()

	result, err := h(ctx, conn, frame.Params)
	if err != nil {
		r.reply(conn, errorFrame(frame.ID, err))
		return
	}

	raw, err := encodeResult(result)
	if err != nil {
		r.reply(conn, NewErrorResponse(frame.ID, CodeInternalError, err.Error(), nil))
		return
	}
	r.reply(conn, NewResult(frame.ID, raw))
}

func errorFrame(id string, err error) *Frame {
	var coded CodedError
	if errors.As(err, &coded) {
		return NewErrorResponse(id, coded.ErrorCode(), coded.ErrorMessage(), coded.ErrorData())
	}
	var fe *FrameError
	if errors.As(err, &fe) {
		return NewErrorResponse(id, fe.Code, fe.Message, fe.Data)
	}
	return NewErrorResponse(id, CodeInternalError, err.Error(), nil)
}

func encodeResult(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		return raw, nil
	}
}

// reply sends f to conn. Delivery failures are logged and not retried.
func (r *Router) reply(conn *Connection, f *Frame) {
	if err := conn.Send(f); err != nil {
		r.logger.Warn("failed to deliver frame",
			"client_id", conn.ID,
			"frame_id", f.ID,
			"type", f.Type,
			"error", err,
		)
	}
}

// Wait blocks until all in-flight request handlers have returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Request sends a server-initiated request to conn and waits for the
// correlated response. A response carrying an error is returned as *FrameError.
func (r *Router) Request(ctx context.Context, conn *Connection, method string, params any) (json.RawMessage, error) {
	frame, err := NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	respCh := conn.CreateRequest(frame.ID)
	defer conn.CloseRequest(frame.ID)

	if err := conn.Send(frame); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrRequestAborted
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// BroadcastFailure records one connection a broadcast could not reach.
type BroadcastFailure struct {
	ClientID string `json:"clientId"`
	Error    string `json:"error"`
}

// BroadcastReport summarizes a broadcast.
type BroadcastReport struct {
	Method    string             `json:"method"`
	Attempted int                `json:"attempted"`
	Delivered int                `json:"delivered"`
	Failures  []BroadcastFailure `json:"failures,omitempty"`
}

// Broadcast sends a notification to every connected client. Per-connection
// failures are collected in the report; the error is only for encoding.
func (r *Router) Broadcast(ctx context.Context, method string, params any) (BroadcastReport, error) {
	report := BroadcastReport{Method: method}

	frame, err := NewNotification(method, params)
	if err != nil {
		return report, err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return report, fmt.Errorf("marshaling broadcast: %w", err)
	}

	conns := r.registry.List()
	report.Attempted = len(conns)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, conn := range conns {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = conn.SendRaw(data)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, BroadcastFailure{ClientID: conn.ID, Error: err.Error()})
				return nil
			}
			report.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].ClientID < report.Failures[j].ClientID
	})
	if len(report.Failures) > 0 {
		r.logger.Warn("broadcast partially failed",
			"method", method,
			"delivered", report.Delivered,
			"failed", len(report.Failures),
		)
	}
	return report, nil
}
