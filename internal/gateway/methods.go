// ABOUTME: WebSocket method table: one route per operation plus tools/* and server/info.
// ABOUTME: Every operation call, direct or via tools/call, goes through the pipeline.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/resilience"
	"github.com/2389/toolgate/internal/transport"
)

// Gateway method names.
const (
	MethodToolsCall    = "tools/call"
	MethodToolsList    = "tools/list"
	MethodToolsMetrics = "tools/metrics"
	MethodServerInfo   = "server/info"
)

func (g *Gateway) registerMethods() {
	for _, info := range g.tools.List() {
		g.routeTool(info.Name)
	}
	g.router.Handle(MethodToolsCall, g.handleToolsCall)
	g.router.Handle(MethodToolsList, g.handleToolsList)
	g.router.Handle(MethodToolsMetrics, g.handleToolsMetrics)
	g.router.Handle(MethodServerInfo, g.handleServerInfo)
}

func (g *Gateway) routeTool(name string) {
	g.router.Handle(name, func(ctx context.Context, _ *transport.Connection, params json.RawMessage) (any, error) {
		return g.pipeline.Invoke(ctx, name, params)
	})
}

// ToolsCallParams is the params payload of tools/call.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (g *Gateway) handleToolsCall(ctx context.Context, _ *transport.Connection, params json.RawMessage) (any, error) {
	var p ToolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &transport.FrameError{Code: transport.CodeInvalidParams, Message: "invalid tools/call params: " + err.Error()}
	}
	if p.Name == "" {
		return nil, &transport.FrameError{Code: transport.CodeInvalidParams, Message: "tools/call requires a name"}
	}
	return g.pipeline.Invoke(ctx, p.Name, p.Arguments)
}

func (g *Gateway) handleToolsList(context.Context, *transport.Connection, json.RawMessage) (any, error) {
	return map[string]any{"tools": g.tools.List()}, nil
}

// ToolMetrics is one entry of the tools/metrics result.
type ToolMetrics struct {
	Name              string                     `json:"name"`
	InvocationCount   uint64                     `json:"invocationCount"`
	ErrorCount        uint64                     `json:"errorCount"`
	AverageDurationMs float64                    `json:"averageDurationMs"`
	LastExecutedAt    *time.Time                 `json:"lastExecutedAt,omitempty"`
	Circuit           resilience.BreakerSnapshot `json:"circuit"`
}

// MetricsSnapshot returns metrics and breaker state for every registered operation.
func (g *Gateway) MetricsSnapshot() []ToolMetrics {
	metrics := g.recorder.Snapshot()
	breakers := g.pipeline.Breakers()

	infos := g.tools.List()
	out := make([]ToolMetrics, 0, len(infos))
	for _, info := range infos {
		tm := ToolMetrics{
			Name:    info.Name,
			Circuit: breakers.State(info.Name),
		}
		if m, ok := metrics[info.Name]; ok {
			tm.InvocationCount = m.InvocationCount
			tm.ErrorCount = m.ErrorCount
			tm.AverageDurationMs = float64(m.AverageDuration()) / float64(time.Millisecond)
			last := m.LastExecutedAt
			tm.LastExecutedAt = &last
		}
		out = append(out, tm)
	}
	return out
}

func (g *Gateway) handleToolsMetrics(context.Context, *transport.Connection, json.RawMessage) (any, error) {
	return map[string]any{"tools": g.MetricsSnapshot()}, nil
}

// ServerInfo is the result of server/info.
type ServerInfo struct {
	ServerID    string   `json:"serverId"`
	Version     string   `json:"version"`
	Uptime      string   `json:"uptime"`
	Connections int      `json:"connections"`
	Tools       int      `json:"tools"`
	ClientID    string   `json:"clientId"`
	Principal   string   `json:"principal,omitempty"`
	Methods     []string `json:"methods"`
}

func (g *Gateway) handleServerInfo(ctx context.Context, conn *transport.Connection, _ json.RawMessage) (any, error) {
	info := ServerInfo{
		ServerID:    g.serverID,
		Version:     g.version,
		Uptime:      time.Since(g.startedAt).Round(time.Second).String(),
		Connections: g.connections.Len(),
		Tools:       g.tools.Len(),
		ClientID:    conn.ID,
		Methods:     g.router.Methods(),
	}
	if p := auth.PrincipalFromContext(ctx); p != nil && !p.Anonymous {
		info.Principal = p.ID
	}
	return info, nil
}

// Invoke calls an operation directly, outside any connection.
func (g *Gateway) Invoke(ctx context.Context, name string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		raw = b
	}
	return g.pipeline.Invoke(ctx, name, raw)
}
