// ABOUTME: Error taxonomy for the invocation pipeline.
// ABOUTME: Every pipeline failure is a *Error carrying a Kind and the JSON-RPC code it maps to.

package tools

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindRateLimitExceeded Kind = "RateLimitExceeded"
	KindCircuitOpen       Kind = "CircuitOpen"
	KindInvalidInput      Kind = "InvalidInput"
	KindMiddlewareError   Kind = "MiddlewareError"
	KindExecutionTimeout  Kind = "ExecutionTimeout"
	KindHandlerError      Kind = "HandlerError"
	KindMethodNotFound    Kind = "MethodNotFound"
)

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrCircuitOpen  = errors.New("circuit breaker open")
	ErrInvalidInput = errors.New("invalid input")
	ErrMiddleware   = errors.New("middleware failed")
	ErrTimeout      = errors.New("execution timed out")
	ErrHandler      = errors.New("handler failed")
	ErrToolNotFound = errors.New("tool not found")
)

// JSON-RPC error codes used on the wire.
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

var sentinels = map[Kind]error{
	KindRateLimitExceeded: ErrRateLimited,
	KindCircuitOpen:       ErrCircuitOpen,
	KindInvalidInput:      ErrInvalidInput,
	KindMiddlewareError:   ErrMiddleware,
	KindExecutionTimeout:  ErrTimeout,
	KindHandlerError:      ErrHandler,
	KindMethodNotFound:    ErrToolNotFound,
}

// Error is the structured failure returned by Pipeline.Invoke.
type Error struct {
	Kind      Kind
	Operation string
	RequestID string
	Message   string
	Cause     error
}

func newError(kind Kind, op, requestID, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Operation: op,
		RequestID: requestID,
		Message:   message,
		Cause:     cause,
	}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Kind, e.Message)
}

// Unwrap exposes both the Kind's sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ErrorCode returns the JSON-RPC error code for this failure.
func (e *Error) ErrorCode() int {
	switch e.Kind {
	case KindInvalidInput:
		return CodeInvalidParams
	case KindMethodNotFound:
		return CodeMethodNotFound
	default:
		return CodeInternalError
	}
}

// ErrorMessage returns the wire message for this failure.
func (e *Error) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// ErrorData returns the structured payload attached to the wire error.
func (e *Error) ErrorData() any {
	data := map[string]any{
		"kind":      string(e.Kind),
		"operation": e.Operation,
	}
	if e.RequestID != "" {
		data["requestId"] = e.RequestID
	}
	return data
}

// KindOf returns the Kind of err, or "" when err is not a pipeline error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
