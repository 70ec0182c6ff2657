// Package gateway orchestrates the toolgate server components.
//
// # Overview
//
// The gateway package owns every registry and server the process runs:
//
//	type Gateway struct {
//	    tools       *tools.Registry
//	    pipeline    *tools.Pipeline
//	    connections *transport.Registry
//	    router      *transport.Router
//	    prober      *transport.Prober
//	    ledger      store.Ledger
//	    httpServer  *http.Server
//	    // ... and more
//	}
//
// Nothing is process-global: two Gateways in one process share no state.
//
// # WebSocket methods
//
// Every registered operation is routed under its own name. In addition:
//
//   - tools/call    - {name, arguments}, invoked through the same pipeline
//   - tools/list    - operation names, descriptions and input schemas
//   - tools/metrics - per-operation metrics and circuit breaker state
//   - server/info   - server id, version, uptime and connection count
//
// # HTTP API
//
// The same listener serves:
//
//   - GET /ws          - WebSocket upgrade (path from server.ws_path)
//   - GET /health      - Liveness check
//   - GET /metrics     - Prometheus metrics (when metrics.enabled)
//   - GET /api/tools   - Operation list
//   - GET /api/ledger  - Recent ledger entries (when ledger.path is set)
//   - POST /mcp        - MCP Streamable HTTP endpoint (when mcp.enabled)
//
// # Lifecycle
//
// New wires the components; Run serves until its context is cancelled and
// then shuts down: the HTTP server stops accepting, every connection is
// closed, in-flight handlers are awaited and the ledger is flushed.
package gateway
