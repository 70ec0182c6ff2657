// ABOUTME: Package tools provides the operation registry and invocation pipeline.
// ABOUTME: This file contains package-level documentation.

// Package tools holds the catalog of invocable operations and the pipeline
// that runs one call through rate limiting, circuit breaking, validation,
// middleware and a time-bounded handler.
//
// # Pipeline
//
// Invoke applies its stages in a fixed order and stops at the first failure:
//
//  1. Rate limit admission (RateLimitExceeded)
//  2. Circuit breaker admission (CircuitOpen)
//  3. Input validation against the operation's JSON Schema (InvalidInput)
//  4. Middleware, in registration order (MiddlewareError)
//  5. Handler under a context deadline (ExecutionTimeout, HandlerError)
//
// Rejections in stages 1 and 2 never touch execution metrics or breaker
// state. Failures in stages 3 to 5 count as one invocation, one error and one
// breaker failure, and emit an error:occurred event. Success emits
// tool:executed.
//
// # Errors
//
// Every failure is a *Error. Its Kind maps to a JSON-RPC code through
// ErrorCode, and errors.Is works against the package sentinels:
//
//	if errors.Is(err, tools.ErrRateLimited) {
//		// back off
//	}
//
// # Handlers
//
// Handlers receive a context that is cancelled at the operation's timeout.
// The pipeline stops waiting at the deadline; a handler that ignores ctx
// keeps running in the background until it returns on its own.
package tools
