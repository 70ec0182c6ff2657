// ABOUTME: Tests for the MCP HTTP endpoint including sessions and tool execution.
// ABOUTME: Validates auth handling, error mapping, and JSON-RPC edge cases.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/toolgate/internal/tools"
)

// staticAuthenticator accepts exactly one bearer token.
type staticAuthenticator struct {
	token string
}

func (a staticAuthenticator) Authenticate(r *http.Request) (string, error) {
	if r.Header.Get("Authorization") != "Bearer "+a.token {
		return "", errors.New("bad token")
	}
	return "agent-1", nil
}

func setupServer(t *testing.T, authn Authenticator) *httptest.Server {
	t.Helper()

	reg := tools.NewRegistry(nil)
	reg.MustRegister(
		tools.Definition{
			Name:        "echo",
			Description: "Echo the input",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
			Handler: func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
				return params, nil
			},
		},
		tools.Definition{
			Name: "broken",
			Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return nil, errors.New("disk full")
			},
		},
		tools.Definition{
			Name:    "sleepy",
			Timeout: 10 * time.Millisecond,
			Handler: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	)

	pipeline, err := tools.NewPipeline(tools.PipelineConfig{Registry: reg})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	server, err := NewServer(Config{Pipeline: pipeline, Authenticator: authn, Version: "test"})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, sessionID, token, body string) (*http.Response, JSONRPCResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out JSONRPCResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp, out
}

func initialize(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()
	resp, out := post(t, ts, "", token, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if out.Error != nil {
		t.Fatalf("initialize failed: %s", out.Error.Message)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return a session id")
	}
	return sessionID
}

func callResult(t *testing.T, out JSONRPCResponse) MCPCallToolResult {
	t.Helper()
	if out.Error != nil {
		t.Fatalf("unexpected error: %d %s", out.Error.Code, out.Error.Message)
	}
	raw, _ := json.Marshal(out.Result)
	var res MCPCallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("failed to decode call result: %v", err)
	}
	return res
}

func TestInitialize(t *testing.T) {
	ts := setupServer(t, nil)
	_, out := post(t, ts, "", "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	result, ok := out.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", out.Result)
	}
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("expected protocol version %s, got %v", latestProtocolVersion, result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "toolgate" || info["version"] != "test" {
		t.Errorf("unexpected serverInfo: %v", info)
	}
}

func TestToolsList(t *testing.T) {
	ts := setupServer(t, nil)
	sessionID := initialize(t, ts, "")

	_, out := post(t, ts, sessionID, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	raw, _ := json.Marshal(out.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if len(result.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(result.Tools))
	}
	if result.Tools[1].Name != "echo" {
		t.Errorf("expected tools sorted by name, got %s second", result.Tools[1].Name)
	}
	if !strings.Contains(string(result.Tools[1].InputSchema), `"required"`) {
		t.Errorf("expected echo input schema, got %s", result.Tools[1].InputSchema)
	}
}

func TestToolsCall(t *testing.T) {
	ts := setupServer(t, nil)
	sessionID := initialize(t, ts, "")

	t.Run("success", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)
		res := callResult(t, out)
		if res.IsError {
			t.Fatal("expected success")
		}
		if len(res.Content) != 1 || !strings.Contains(res.Content[0].Text, `"hi"`) {
			t.Errorf("unexpected content: %+v", res.Content)
		}
	})

	t.Run("handler error is a tool result", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"broken"}}`)
		res := callResult(t, out)
		if !res.IsError || res.Content[0].Text != "disk full" {
			t.Errorf("expected isError with handler message, got %+v", res)
		}
	})

	t.Run("timeout is a tool result", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"sleepy"}}`)
		res := callResult(t, out)
		if !res.IsError || !strings.Contains(res.Content[0].Text, "timed out") {
			t.Errorf("expected timeout result, got %+v", res)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
		if out.Error == nil || out.Error.Code != JSONRPCInvalidParams {
			t.Fatalf("expected invalid params error, got %+v", out.Error)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"nope"}}`)
		if out.Error == nil || out.Error.Message != "tool not found" {
			t.Fatalf("expected tool not found, got %+v", out.Error)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		_, out := post(t, ts, sessionID, "",
			`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{}}`)
		if out.Error == nil || out.Error.Code != JSONRPCInvalidParams {
			t.Fatalf("expected invalid params, got %+v", out.Error)
		}
	})
}

func TestSessionRequired(t *testing.T) {
	ts := setupServer(t, nil)

	resp, _ := post(t, ts, "", "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without session, got %d", resp.StatusCode)
	}

	resp, _ = post(t, ts, "unknown-session", "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestNotificationAccepted(t *testing.T) {
	ts := setupServer(t, nil)
	sessionID := initialize(t, ts, "")

	resp, _ := post(t, ts, sessionID, "", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
}

func TestMalformedRequests(t *testing.T) {
	ts := setupServer(t, nil)

	_, out := post(t, ts, "", "", `{not json`)
	if out.Error == nil || out.Error.Code != JSONRPCParseError {
		t.Errorf("expected parse error, got %+v", out.Error)
	}

	_, out = post(t, ts, "", "", `{"jsonrpc":"1.0","id":1,"method":"initialize"}`)
	if out.Error == nil || out.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid request, got %+v", out.Error)
	}

	sessionID := initialize(t, ts, "")
	_, out = post(t, ts, sessionID, "", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if out.Error == nil || out.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("expected method not found, got %+v", out.Error)
	}
}

func TestAuthAndDelete(t *testing.T) {
	ts := setupServer(t, staticAuthenticator{token: "secret"})

	_, out := post(t, ts, "", "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if out.Error == nil || out.Error.Message != "authentication required" {
		t.Fatalf("expected auth failure, got %+v", out.Error)
	}

	sessionID := initialize(t, ts, "secret")

	del := func(token string) int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
		req.Header.Set("Mcp-Session-Id", sessionID)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := del("other"); code != http.StatusForbidden {
		t.Errorf("expected 403 for foreign token, got %d", code)
	}
	if code := del("secret"); code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", code)
	}
	if code := del("secret"); code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", code)
	}
}

func TestNewServerRequiresPipeline(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("expected error without pipeline")
	}
}
