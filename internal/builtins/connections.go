// ABOUTME: Connections pack provides tools that read or reach connected clients.
// ABOUTME: connection_stats, broadcast_message, and ask_client.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/toolgate/internal/tools"
	"github.com/2389/toolgate/internal/transport"
)

// ErrClientNotFound indicates ask_client targeted a client that is not connected.
var ErrClientNotFound = errors.New("client not connected")

// PromptMethod is the server-initiated request method used by ask_client.
const PromptMethod = "client/prompt"

const (
	defaultAskTimeout = 60 * time.Second
	maxAskTimeout     = 300 * time.Second
)

// ConnectionsPack creates the connections pack.
func ConnectionsPack(registry *transport.Registry, router *transport.Router) *Pack {
	c := &connectionHandlers{registry: registry, router: router}
	return &Pack{
		ID: "builtin:connections",
		Tools: []tools.Definition{
			{
				Name:        "connection_stats",
				Description: "List connected clients and their request counts",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				Handler:     c.ConnectionStats,
				Timeout:     5 * time.Second,
			},
			{
				Name:        "broadcast_message",
				Description: "Send a notification to every connected client",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"method": {"type": "string", "minLength": 1},
						"message": {"type": "string"},
						"data": {}
					},
					"required": ["message"]
				}`),
				Handler:    c.BroadcastMessage,
				Timeout:    10 * time.Second,
				Middleware: []tools.Middleware{tools.Defaults(map[string]any{"method": "broadcast"})},
			},
			{
				Name:        "ask_client",
				Description: "Send a question to one connected client and wait for its answer",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"client_id": {"type": "string", "minLength": 1},
						"question": {"type": "string", "minLength": 1},
						"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 300}
					},
					"required": ["client_id", "question"]
				}`),
				Handler: c.AskClient,
				Timeout: maxAskTimeout + 5*time.Second,
			},
		},
	}
}

type connectionHandlers struct {
	registry *transport.Registry
	router   *transport.Router
}

// ConnectionStats returns information about all connected clients.
func (c *connectionHandlers) ConnectionStats(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	conns := c.registry.Snapshot()

	var total uint64
	for _, info := range conns {
		total += info.RequestCount
	}

	return json.Marshal(map[string]any{
		"count":         len(conns),
		"totalRequests": total,
		"connections":   conns,
	})
}

// BroadcastInput is the input schema for the broadcast_message tool
type BroadcastInput struct {
	Method  string          `json:"method"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BroadcastMessage fans a notification out to every client.
func (c *connectionHandlers) BroadcastMessage(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in BroadcastInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	params := map[string]any{"message": in.Message}
	if len(in.Data) > 0 {
		params["data"] = in.Data
	}
	if ec := tools.ExecutionFromContext(ctx); ec != nil && ec.CallerID != "" {
		params["from"] = ec.CallerID
	}

	report, err := c.router.Broadcast(ctx, in.Method, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(report)
}

// AskClientInput is the input schema for the ask_client tool
type AskClientInput struct {
	ClientID       string `json:"client_id"`
	Question       string `json:"question"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AskClientOutput is the output schema for the ask_client tool
type AskClientOutput struct {
	Answered bool            `json:"answered"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// AskClient sends a prompt request to one client and returns its response.
func (c *connectionHandlers) AskClient(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in AskClientInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	conn, ok := c.registry.Get(in.ClientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, in.ClientID)
	}

	timeout := defaultAskTimeout
	if in.TimeoutSeconds > 0 {
		timeout = min(time.Duration(in.TimeoutSeconds)*time.Second, maxAskTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := c.router.Request(ctx, conn, PromptMethod, map[string]string{"question": in.Question})

	var out AskClientOutput
	switch {
	case err == nil:
		out = AskClientOutput{Answered: true, Answer: answer}
	case errors.Is(err, context.DeadlineExceeded):
		out = AskClientOutput{Reason: "timeout"}
	case errors.Is(err, transport.ErrRequestAborted):
		out = AskClientOutput{Reason: "client disconnected"}
	default:
		var fe *transport.FrameError
		if errors.As(err, &fe) {
			out = AskClientOutput{Reason: fe.Message}
			break
		}
		return nil, err
	}
	return json.Marshal(out)
}
