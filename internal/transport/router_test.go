// ABOUTME: Tests for frame routing, response correlation, and broadcast.
// ABOUTME: Uses fake sockets so every written frame can be inspected.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type codedErr struct{}

func (codedErr) Error() string        { return "rate limited" }
func (codedErr) ErrorCode() int       { return -32603 }
func (codedErr) ErrorMessage() string { return "rate limit exceeded for echo" }
func (codedErr) ErrorData() any       { return map[string]any{"kind": "RateLimitExceeded"} }

func newTestRouter(t *testing.T) (*Router, *Registry) {
	t.Helper()
	reg, _ := newTestRegistry()
	return NewRouter(RouterConfig{Registry: reg}), reg
}

func request(id, method, params string) []byte {
	if params == "" {
		return []byte(fmt.Sprintf(`{"id":%q,"type":"request","method":%q,"timestamp":1}`, id, method))
	}
	return []byte(fmt.Sprintf(`{"id":%q,"type":"request","method":%q,"params":%s,"timestamp":1}`, id, method, params))
}

func TestRouter_RequestResponseRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	router, _ := newTestRouter(t)
	router.Handle("echo", func(_ context.Context, _ *Connection, params json.RawMessage) (any, error) {
		return params, nil
	})
	conn, sock := newTestConn("c1")

	router.Dispatch(context.Background(), conn, request("req-42", "echo", `{"message":"hi"}`))
	router.Wait()

	resp := sock.waitFrame(t, 1)
	assert.Equal(t, "req-42", resp.ID)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"message":"hi"}`, string(resp.Result))
	assert.Equal(t, uint64(1), conn.RequestCount())
}

func TestRouter_StructResultIsMarshaled(t *testing.T) {
	router, _ := newTestRouter(t)
	router.Handle("info", func(context.Context, *Connection, json.RawMessage) (any, error) {
		return struct {
			Name string `json:"name"`
		}{"toolgate"}, nil
	})
	conn, sock := newTestConn("c1")

	router.Dispatch(context.Background(), conn, request("1", "info", ""))
	router.Wait()

	assert.JSONEq(t, `{"name":"toolgate"}`, string(sock.waitFrame(t, 1).Result))
}

func TestRouter_ErrorResponses(t *testing.T) {
	router, _ := newTestRouter(t)
	router.Handle("limited", func(context.Context, *Connection, json.RawMessage) (any, error) {
		return nil, fmt.Errorf("wrapped: %w", codedErr{})
	})
	router.Handle("plain", func(context.Context, *Connection, json.RawMessage) (any, error) {
		return nil, errors.New("disk full")
	})
	router.Handle("panics", func(context.Context, *Connection, json.RawMessage) (any, error) {
		panic("oops")
	})

	tests := []struct {
		name    string
		input   []byte
		code    int
		message string
	}{
		{"unknown method", request("a", "nope", ""), CodeMethodNotFound, "method not found: nope"},
		{"coded error", request("b", "limited", ""), -32603, "rate limit exceeded for echo"},
		{"plain error", request("c", "plain", ""), CodeInternalError, "disk full"},
		{"panic", request("d", "panics", ""), CodeInternalError, "internal error: oops"},
		{"missing method", []byte(`{"id":"e","type":"request","timestamp":1}`), CodeInvalidRequest, ""},
		{"parse error", []byte(`{{{`), CodeParseError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, sock := newTestConn("c1")
			router.Dispatch(context.Background(), conn, tt.input)
			router.Wait()

			resp := sock.waitFrame(t, 1)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error.Message)
			}
			assert.Empty(t, resp.Result)
		})
	}
}

func TestRouter_CodedErrorData(t *testing.T) {
	router, _ := newTestRouter(t)
	router.Handle("limited", func(context.Context, *Connection, json.RawMessage) (any, error) {
		return nil, codedErr{}
	})
	conn, sock := newTestConn("c1")

	router.Dispatch(context.Background(), conn, request("x", "limited", ""))
	router.Wait()

	resp := sock.waitFrame(t, 1)
	require.NotNil(t, resp.Error)
	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RateLimitExceeded", data["kind"])
}

func TestRouter_PingPong(t *testing.T) {
	router, _ := newTestRouter(t)
	conn, sock := newTestConn("c1")
	require.NoError(t, conn.probe())
	require.False(t, conn.Alive())

	router.Dispatch(context.Background(), conn, []byte(`{"id":"p1","type":"ping","params":{"seq":3},"timestamp":1}`))

	pong := sock.waitFrame(t, 1)
	assert.Equal(t, TypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)
	assert.JSONEq(t, `{"seq":3}`, string(pong.Params))
	assert.True(t, conn.Alive())

	require.NoError(t, conn.probe())
	router.Dispatch(context.Background(), conn, []byte(`{"id":"p2","type":"pong","timestamp":1}`))
	assert.True(t, conn.Alive())
}

func TestRouter_Notifications(t *testing.T) {
	router, _ := newTestRouter(t)
	got := make(chan json.RawMessage, 1)
	router.HandleNotification("log", func(_ context.Context, _ *Connection, params json.RawMessage) {
		got <- params
	})
	conn, sock := newTestConn("c1")

	router.Dispatch(context.Background(), conn, []byte(`{"id":"n1","type":"notification","method":"log","params":"hello","timestamp":1}`))
	router.Dispatch(context.Background(), conn, []byte(`{"id":"n2","type":"notification","method":"unknown","timestamp":1}`))

	assert.JSONEq(t, `"hello"`, string(<-got))
	assert.Empty(t, sock.frames(t), "notifications are never answered")
}

func TestRouter_ServerInitiatedRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	router, _ := newTestRouter(t)
	conn, sock := newTestConn("c1")

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := router.Request(context.Background(), conn, "client/confirm", map[string]string{"q": "ok?"})
		done <- outcome{res, err}
	}()

	req := sock.waitFrame(t, 1)
	assert.Equal(t, TypeRequest, req.Type)
	assert.Equal(t, "client/confirm", req.Method)

	reply := fmt.Sprintf(`{"id":%q,"type":"response","result":{"yes":true},"timestamp":1}`, req.ID)
	router.Dispatch(context.Background(), conn, []byte(reply))

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"yes":true}`, string(out.result))
}

func TestRouter_ServerInitiatedRequestErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("error response", func(t *testing.T) {
		conn, sock := newTestConn("c1")
		done := make(chan error, 1)
		go func() {
			_, err := router.Request(context.Background(), conn, "client/do", nil)
			done <- err
		}()
		req := sock.waitFrame(t, 1)
		router.Dispatch(context.Background(), conn,
			[]byte(fmt.Sprintf(`{"id":%q,"type":"response","error":{"code":-32601,"message":"no"},"timestamp":1}`, req.ID)))

		var fe *FrameError
		require.ErrorAs(t, <-done, &fe)
		assert.Equal(t, CodeMethodNotFound, fe.Code)
	})

	t.Run("connection closed", func(t *testing.T) {
		conn, sock := newTestConn("c2")
		done := make(chan error, 1)
		go func() {
			_, err := router.Request(context.Background(), conn, "client/do", nil)
			done <- err
		}()
		sock.waitFrame(t, 1)
		require.NoError(t, conn.Terminate())
		assert.ErrorIs(t, <-done, ErrRequestAborted)
	})

	t.Run("timeout", func(t *testing.T) {
		conn, _ := newTestConn("c3")
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := router.Request(ctx, conn, "client/do", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRouter_BroadcastWithFailingSocket(t *testing.T) {
	defer goleak.VerifyNone(t)

	router, reg := newTestRouter(t)
	ctx := context.Background()

	socks := map[string]*fakeSocket{}
	for _, id := range []string{"a", "b", "c"} {
		conn, sock := newTestConn(id)
		require.NoError(t, reg.Add(ctx, conn))
		socks[id] = sock
	}
	socks["b"].mu.Lock()
	socks["b"].failWrites = true
	socks["b"].mu.Unlock()

	report, err := router.Broadcast(ctx, "announce", map[string]string{"text": "maintenance at noon"})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].ClientID)

	for _, id := range []string{"a", "c"} {
		f := socks[id].waitFrame(t, 2)
		assert.Equal(t, TypeNotification, f.Type)
		assert.Equal(t, "announce", f.Method)
		assert.JSONEq(t, `{"text":"maintenance at noon"}`, string(f.Params))
	}
}

func TestRouter_BroadcastNoClients(t *testing.T) {
	router, _ := newTestRouter(t)
	report, err := router.Broadcast(context.Background(), "announce", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Empty(t, report.Failures)
}

func TestRouter_Methods(t *testing.T) {
	router, _ := newTestRouter(t)
	noop := func(context.Context, *Connection, json.RawMessage) (any, error) { return nil, nil }
	router.Handle("b", noop)
	router.Handle("a", noop)
	assert.Equal(t, []string{"a", "b"}, router.Methods())
}
