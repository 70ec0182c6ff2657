// Package builtins provides built-in tool packs for toolgate.
//
// # Overview
//
// Built-in tools are gateway-provided operations that clients can call
// without registering any handlers of their own. They go through the same
// registry and pipeline as every other operation, so rate limits, circuit
// breakers and metrics apply to them too.
//
// # Tool Packs
//
// Base Pack (builtin:base):
//
//   - echo: Return the given message (rate limited to 10 calls per second)
//   - server_time: Report the server clock in RFC 3339 or unix form
//
// Connections Pack (builtin:connections):
//
//   - connection_stats: List connected clients and their request counts
//   - broadcast_message: Send a notification to every connected client
//   - ask_client: Send a question to one client and wait for its answer
//
// # Registration
//
//	packs := []*builtins.Pack{
//		builtins.BasePack(),
//		builtins.ConnectionsPack(registry, router),
//	}
//	if err := builtins.Register(toolRegistry, packs...); err != nil {
//		return err
//	}
package builtins
