// Package client is a WebSocket client for toolgate.
//
// # Overview
//
// Dial connects, waits for the server's welcome notification and starts a
// background reader. Calls are correlated to responses by frame id, so any
// number of goroutines can call concurrently over one connection:
//
//	c, err := client.Dial(ctx, "ws://127.0.0.1:8080/ws", client.Options{Token: token})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	result, err := c.Call(ctx, "echo", map[string]string{"message": "hi"})
//
// A failed call returns *transport.FrameError carrying the server's code,
// message and data.
//
// # Server-initiated traffic
//
// Notifications (including broadcasts) arrive on Notifications(). Requests
// from the server, such as the ask_client prompt, are passed to
// Options.RequestHandler; without one they are answered with -32601.
// Protocol pings are answered automatically.
package client
