// ABOUTME: WebSocket client that correlates calls with responses by frame id.
// ABOUTME: Delivers notifications on a channel and answers server-initiated requests.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/toolgate/internal/transport"
)

// ErrClosed indicates the connection to the server is gone.
var ErrClosed = errors.New("client closed")

// RequestHandler answers a request initiated by the server.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Options configures Dial.
type Options struct {
	// Token is sent as a bearer token on the upgrade request.
	Token  string
	Header http.Header
	Logger *slog.Logger

	// RequestHandler answers server-initiated requests.
	RequestHandler RequestHandler

	// NotificationBuffer sizes the notification channel. Notifications
	// arriving while it is full are dropped.
	NotificationBuffer int

	WriteTimeout time.Duration
}

// Client is a connection to a toolgate server.
type Client struct {
	ws      *websocket.Conn
	welcome transport.Welcome
	opts    Options
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *transport.Frame
	err     error

	notifications chan *transport.Frame
	done          chan struct{}
	closeOnce     sync.Once
	ctx           context.Context
	cancel        context.CancelFunc
}

// Dial connects to url and waits for the welcome notification.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	welcome, err := readWelcome(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:            ws,
		welcome:       welcome,
		opts:          opts,
		logger:        logger.With("component", "client", "client_id", welcome.ClientID),
		pending:       make(map[string]chan *transport.Frame),
		notifications: make(chan *transport.Frame, opts.NotificationBuffer),
		done:          make(chan struct{}),
		ctx:           cctx,
		cancel:        cancel,
	}
	go c.readLoop()
	return c, nil
}

func readWelcome(ctx context.Context, ws *websocket.Conn) (transport.Welcome, error) {
	var w transport.Welcome

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.SetReadDeadline(deadline); err != nil {
		return w, err
	}
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	_, data, err := ws.ReadMessage()
	if err != nil {
		return w, fmt.Errorf("waiting for welcome: %w", err)
	}
	f, perr := transport.ParseFrame(data)
	if perr != nil {
		return w, fmt.Errorf("waiting for welcome: %w", perr)
	}
	if f.Type != transport.TypeNotification || f.Method != "welcome" {
		return w, fmt.Errorf("expected welcome, got %s %q", f.Type, f.Method)
	}
	if err := json.Unmarshal(f.Params, &w); err != nil {
		return w, fmt.Errorf("decoding welcome: %w", err)
	}
	return w, nil
}

// ClientID returns the id the server assigned to this connection.
func (c *Client) ClientID() string { return c.welcome.ClientID }

// Capabilities returns the capabilities announced by the server.
func (c *Client) Capabilities() []string { return c.welcome.Capabilities }

// Notifications returns the channel of server notifications. It is closed
// when the connection ends.
func (c *Client) Notifications() <-chan *transport.Frame { return c.notifications }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, err := transport.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Ping sends an in-band ping frame and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req := &transport.Frame{ID: transport.NewFrameID(), Type: transport.TypePing, Timestamp: transport.Now()}
	if _, err := c.roundTrip(ctx, req); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	f, err := transport.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.send(f)
}

func (c *Client) roundTrip(ctx context.Context, req *transport.Frame) (*transport.Frame, error) {
	ch := make(chan *transport.Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.Err()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) send(f *transport.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending %s: %w", f.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	var loopErr error
	defer func() { c.shutdown(loopErr) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			loopErr = fmt.Errorf("%w: %v", ErrClosed, err)
			return
		}

		f, perr := transport.ParseFrame(data)
		if perr != nil {
			c.logger.Warn("ignoring malformed frame from server", "error", perr)
			continue
		}

		switch f.Type {
		case transport.TypeResponse, transport.TypePong:
			c.deliver(f)
		case transport.TypePing:
			if err := c.send(&transport.Frame{ID: f.ID, Type: transport.TypePong, Params: f.Params, Timestamp: transport.Now()}); err != nil {
				c.logger.Debug("pong failed", "error", err)
			}
		case transport.TypeNotification:
			select {
			case c.notifications <- f:
			default:
				c.logger.Warn("notification buffer full, dropping", "method", f.Method)
			}
		case transport.TypeRequest:
			go c.answer(f)
		}
	}
}

func (c *Client) deliver(f *transport.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request", "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (c *Client) answer(req *transport.Frame) {
	if c.opts.RequestHandler == nil {
		_ = c.send(transport.NewErrorResponse(req.ID, transport.CodeMethodNotFound,
			"method not found: "+req.Method, nil))
		return
	}

	result, err := c.opts.RequestHandler(c.ctx, req.Method, req.Params)
	if err != nil {
		_ = c.send(transport.NewErrorResponse(req.ID, transport.CodeInternalError, err.Error(), nil))
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		_ = c.send(transport.NewErrorResponse(req.ID, transport.CodeInternalError, err.Error(), nil))
		return
	}
	if err := c.send(transport.NewResult(req.ID, raw)); err != nil {
		c.logger.Warn("failed to answer server request", "method", req.Method, "error", err)
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		c.mu.Lock()
		c.err = err
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()

		c.cancel()
		close(c.notifications)
		close(c.done)
	})
}

// Close sends a close frame and waits for the reader to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return c.ws.Close()
}
