// ABOUTME: Tests for the WebSocket client against a real transport server.
// ABOUTME: Covers welcome, call correlation, errors, notifications, and server requests.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/events"
	"github.com/2389/toolgate/internal/transport"
)

type testServer struct {
	url      string
	registry *transport.Registry
	router   *transport.Router
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	reg := transport.NewRegistry(events.NewBus(nil), []string{"tools"}, nil)
	router := transport.NewRouter(transport.RouterConfig{Registry: reg})
	router.Handle("echo", func(_ context.Context, _ *transport.Connection, params json.RawMessage) (any, error) {
		return params, nil
	})
	router.Handle("slow", func(ctx context.Context, _ *transport.Connection, params json.RawMessage) (any, error) {
		var d time.Duration
		_ = json.Unmarshal(params, &d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return d.String(), nil
	})
	router.Handle("fail", func(context.Context, *transport.Connection, json.RawMessage) (any, error) {
		return nil, &transport.FrameError{Code: transport.CodeInvalidParams, Message: "nope", Data: map[string]any{"kind": "InvalidInput"}}
	})

	srv := transport.NewServer(context.Background(), transport.ServerConfig{Registry: reg, Router: router})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http"),
		registry: reg,
		router:   router,
	}
}

func dial(t *testing.T, ts *testServer, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, ts.url, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_ReceivesWelcome(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	assert.NotEmpty(t, c.ClientID())
	assert.Equal(t, []string{"tools"}, c.Capabilities())

	_, ok := ts.registry.Get(c.ClientID())
	assert.True(t, ok)
}

func TestCall_ConcurrentCorrelation(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})
	ctx := context.Background()

	// The slow call is issued first and answered last.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := c.Call(ctx, "slow", 200*time.Millisecond)
		assert.NoError(t, err)
		assert.JSONEq(t, `"200ms"`, string(res))
	}()

	for i := 0; i < 5; i++ {
		res, err := c.Call(ctx, "echo", map[string]int{"n": i})
		require.NoError(t, err)
		var got map[string]int
		require.NoError(t, json.Unmarshal(res, &got))
		assert.Equal(t, i, got["n"])
	}
	wg.Wait()
}

func TestCall_ErrorResponse(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	_, err := c.Call(context.Background(), "fail", nil)
	var fe *transport.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, transport.CodeInvalidParams, fe.Code)
	assert.Equal(t, "nope", fe.Message)

	_, err = c.Call(context.Background(), "missing", nil)
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, transport.CodeMethodNotFound, fe.Code)
}

func TestCall_ContextTimeout(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "slow", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPing(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	rtt, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestNotifications_Broadcast(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	report, err := ts.router.Broadcast(context.Background(), "broadcast", map[string]string{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	select {
	case f := <-c.Notifications():
		assert.Equal(t, "broadcast", f.Method)
		assert.JSONEq(t, `{"message":"hello"}`, string(f.Params))
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestServerRequest_Handled(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{
		RequestHandler: func(_ context.Context, method string, params json.RawMessage) (any, error) {
			if method != "client/prompt" {
				return nil, errors.New("unexpected method")
			}
			return map[string]string{"answer": "yes"}, nil
		},
	})

	conn, ok := ts.registry.Get(c.ClientID())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := ts.router.Request(ctx, conn, "client/prompt", map[string]string{"question": "ok?"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"yes"}`, string(res))

	_, err = ts.router.Request(ctx, conn, "other", nil)
	var fe *transport.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, transport.CodeInternalError, fe.Code)
}

func TestServerRequest_NoHandler(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	conn, ok := ts.registry.Get(c.ClientID())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ts.router.Request(ctx, conn, "client/prompt", nil)
	var fe *transport.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, transport.CodeMethodNotFound, fe.Code)
}

func TestClose_EndsConnection(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})
	id := c.ClientID()

	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not shut down")
	}
	assert.ErrorIs(t, c.Err(), ErrClosed)

	_, err := c.Call(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrClosed)

	assert.Eventually(t, func() bool {
		_, ok := ts.registry.Get(id)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerDisconnect_FailsPendingCalls(t *testing.T) {
	ts := startServer(t)
	c := dial(t, ts, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "slow", 5*time.Second)
		errCh <- err
	}()

	// Let the request reach the server before dropping the connection.
	time.Sleep(50 * time.Millisecond)
	ts.registry.Remove(context.Background(), c.ClientID(), "test")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not released")
	}
}
