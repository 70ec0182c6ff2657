// Package mcp exposes registered tools over the Model Context Protocol.
//
// # Overview
//
// MCP is a standard for AI tool integration. This package serves the
// Streamable HTTP transport on a single endpoint so external agents can list
// and call gateway tools without a WebSocket connection:
//
//   - POST /mcp   - JSON-RPC requests (initialize, ping, tools/list, tools/call)
//   - DELETE /mcp - terminate a session
//
// initialize creates a session and returns its id in the Mcp-Session-Id
// header; every later request must carry it.
//
// # Tool Execution
//
// tools/call runs through the same tools.Pipeline as WebSocket calls, so rate
// limits, circuit breakers, validation, metrics and ledger events apply
// equally:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "echo",
//	    "arguments": {"message": "hello"}
//	  },
//	  "id": 2
//	}
//
// Unknown tools and invalid input are JSON-RPC errors (-32602). Rate limit and
// open-circuit rejections are -32603 with the failure kind in error.data.
// Handler failures and timeouts are returned as a result with isError set.
//
// # Authentication
//
// When an Authenticator is configured, initialize requires a bearer token
// (Authorization header or token query parameter). The session is bound to
// that token for DELETE.
package mcp
