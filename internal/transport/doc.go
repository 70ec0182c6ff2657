// ABOUTME: Package transport carries frames between the gateway and its clients.
// ABOUTME: This file contains package-level documentation.

// Package transport implements the connection side of toolgate: a registry of
// live WebSocket clients, a liveness prober, and a router that turns inbound
// frames into method calls and correlated responses.
//
// # Frames
//
// Every message is one JSON object:
//
//	{"id": "...", "type": "request", "method": "echo", "params": {...}, "timestamp": 1700000000000}
//
// Types are request, response, notification, ping and pong. A response
// carries either result or error. Frames with missing or mistyped id, type
// or timestamp are answered with -32600; input that is not JSON at all gets
// -32700.
//
// # Liveness
//
// The Prober sweeps the Registry on a fixed interval. A connection that has
// not answered since the previous sweep is terminated and removed; the rest
// are marked unanswered and pinged. Either a protocol pong or an in-band pong
// frame marks a connection alive again.
//
// # Correlation
//
// Client requests are answered with a response carrying the same id. The
// server can also call clients with Router.Request, which waits for the
// response frame whose id matches the request it sent.
//
// # Broadcast
//
// Router.Broadcast encodes a notification once and writes it to every client
// with bounded concurrency. Failures are reported per client and never abort
// delivery to the others.
package transport
