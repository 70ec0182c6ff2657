// ABOUTME: Base pack provides stateless tools: echo and server_time.
// ABOUTME: Useful for smoke-testing a deployment end to end.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/toolgate/internal/resilience"
	"github.com/2389/toolgate/internal/tools"
)

// BasePack creates the base pack.
func BasePack() *Pack {
	return &Pack{
		ID: "builtin:base",
		Tools: []tools.Definition{
			{
				Name:        "echo",
				Description: "Return the given message",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"message": {"type": "string", "minLength": 1}
					},
					"required": ["message"]
				}`),
				Handler: Echo,
				RateLimit: &resilience.RateLimitPolicy{
					Window:      time.Second,
					MaxRequests: 10,
				},
				Timeout:    5 * time.Second,
				Middleware: []tools.Middleware{tools.MaxInputSize(64 << 10)},
			},
			{
				Name:        "server_time",
				Description: "Report the current server time",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"format": {"type": "string", "enum": ["rfc3339", "unix"]}
					}
				}`),
				Handler:    ServerTime,
				Timeout:    5 * time.Second,
				Middleware: []tools.Middleware{tools.Defaults(map[string]any{"format": "rfc3339"})},
			},
		},
	}
}

// EchoInput is the input schema for the echo tool
type EchoInput struct {
	Message string `json:"message"`
}

// Echo returns the message it was given.
func Echo(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in EchoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	out := map[string]any{"message": in.Message}
	if ec := tools.ExecutionFromContext(ctx); ec != nil {
		out["requestId"] = ec.RequestID
	}
	return json.Marshal(out)
}

// ServerTimeInput is the input schema for the server_time tool
type ServerTimeInput struct {
	Format string `json:"format"`
}

// ServerTime reports the server clock.
func ServerTime(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in ServerTimeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	now := time.Now()
	zone, _ := now.Zone()
	out := map[string]any{"timezone": zone}
	switch in.Format {
	case "unix":
		out["time"] = now.Unix()
	default:
		out["time"] = now.Format(time.RFC3339)
	}
	return json.Marshal(out)
}
