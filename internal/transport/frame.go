// ABOUTME: Wire frame schema shared by server and client, with strict parsing.
// ABOUTME: Malformed frames map to JSON-RPC parse and invalid-request errors.

package transport

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FrameType discriminates frames on the wire.
type FrameType string

const (
	TypeRequest      FrameType = "request"
	TypeResponse     FrameType = "response"
	TypeNotification FrameType = "notification"
	TypePing         FrameType = "ping"
	TypePong         FrameType = "pong"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// FrameError is the error member of a response frame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Frame is one message on a connection.
type Frame struct {
	ID        string          `json:"id"`
	Type      FrameType       `json:"type"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *FrameError     `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ProtocolError describes a frame that could not be accepted. ID is the
// inbound frame id when one could be recovered.
type ProtocolError struct {
	ID      string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewFrameID returns a time-sortable id for server-originated frames.
func NewFrameID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Now returns the frame timestamp for the current instant (unix milliseconds).
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewRequest builds a request frame with a fresh id.
func NewRequest(method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{ID: NewFrameID(), Type: TypeRequest, Method: method, Params: raw, Timestamp: Now()}, nil
}

// NewNotification builds a notification frame with a fresh id.
func NewNotification(method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{ID: NewFrameID(), Type: TypeNotification, Method: method, Params: raw, Timestamp: Now()}, nil
}

// NewResult builds a success response correlated to id.
func NewResult(id string, result json.RawMessage) *Frame {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Frame{ID: id, Type: TypeResponse, Result: result, Timestamp: Now()}
}

// NewErrorResponse builds an error response correlated to id.
func NewErrorResponse(id string, code int, message string, data any) *Frame {
	return &Frame{
		ID:        id,
		Type:      TypeResponse,
		Error:     &FrameError{Code: code, Message: message, Data: data},
		Timestamp: Now(),
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		return raw, nil
	}
}

// ParseFrame decodes and validates one inbound frame. Non-JSON input yields
// CodeParseError (-32700), following JSON-RPC; a JSON value with missing or
// mistyped fields, including a timestamp that is not a whole number of
// milliseconds within int64 range, yields CodeInvalidRequest. Neither touches
// operation state.
func ParseFrame(data []byte) (*Frame, *ProtocolError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if json.Valid(data) {
			return nil, &ProtocolError{Code: CodeInvalidRequest, Message: "frame must be a JSON object"}
		}
		return nil, &ProtocolError{Code: CodeParseError, Message: "parse error: " + err.Error()}
	}

	var f Frame
	invalid := func(msg string) (*Frame, *ProtocolError) {
		return nil, &ProtocolError{ID: f.ID, Code: CodeInvalidRequest, Message: "invalid request: " + msg}
	}

	if err := decodeField(fields, "id", &f.ID); err != nil || f.ID == "" {
		return invalid("id must be a non-empty string")
	}
	var typ string
	if err := decodeField(fields, "type", &typ); err != nil {
		return invalid("type must be a string")
	}
	f.Type = FrameType(typ)
	switch f.Type {
	case TypeRequest, TypeResponse, TypeNotification, TypePing, TypePong:
	default:
		return invalid(fmt.Sprintf("unknown frame type %q", typ))
	}

	var ts float64
	if err := decodeField(fields, "timestamp", &ts); err != nil {
		return invalid("timestamp must be a number")
	}
	if ts != math.Trunc(ts) || ts < math.MinInt64 || ts >= math.MaxInt64 {
		return invalid("timestamp must be an integer number of milliseconds")
	}
	f.Timestamp = int64(ts)

	if raw, ok := fields["method"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &f.Method); err != nil {
			return invalid("method must be a string")
		}
	}
	if raw, ok := fields["params"]; ok {
		f.Params = raw
	}
	if raw, ok := fields["result"]; ok {
		f.Result = raw
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		var fe FrameError
		if err := json.Unmarshal(raw, &fe); err != nil {
			return invalid("error must be an object with code and message")
		}
		f.Error = &fe
	}

	if f.Type == TypeResponse && f.Error != nil && len(f.Result) > 0 && !isNull(f.Result) {
		return invalid("response carries both result and error")
	}
	if (f.Type == TypeRequest || f.Type == TypeNotification) && f.Method == "" {
		return invalid("method is required")
	}
	return &f, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return fmt.Errorf("missing %s", name)
	}
	return json.Unmarshal(raw, dst)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
