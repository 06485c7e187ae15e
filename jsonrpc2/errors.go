package jsonrpc2

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Predefined JSON-RPC 2.0 error codes, plus the LSP-style extensions this
// library's endpoint relies on (RequestCancelled, the ServerError range).
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeRequestCancelled = -32800

	ServerErrorRangeStart = -32099
	ServerErrorRangeEnd   = -32000
)

// Error is the typed sum of JSON-RPC error kinds: a code, a message, and
// optional structured data. It implements the error interface so it can
// flow through normal Go error handling right up to the point it's written
// to the wire.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc2: %s (code %d)", e.Message, e.Code)
}

// ParseError reports a malformed JSON payload.
func ParseError(detail string) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error: " + detail}
}

// InvalidRequest reports a structurally invalid request object.
func InvalidRequest(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid Request: " + detail}
}

// MethodNotFound reports that the dispatcher has no handler for method.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found: " + method}
}

// InvalidParams reports that a handler rejected its params.
func InvalidParams(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params: " + detail}
}

// RequestCancelled reports that an inbound request's task was cancelled
// via $/cancelRequest before it produced a result.
func RequestCancelled() *Error {
	return &Error{Code: CodeRequestCancelled, Message: "Request cancelled"}
}

// NewServerError constructs an error in the implementation-defined
// ServerError range (-32000..-32099). Handlers use this to signal
// domain-specific failures without colliding with the protocol's own codes.
func NewServerError(code int, message string, data interface{}) (*Error, error) {
	if code < ServerErrorRangeStart || code > ServerErrorRangeEnd {
		return nil, errors.Newf("server error code %d outside reserved range [%d, %d]", code, ServerErrorRangeStart, ServerErrorRangeEnd)
	}
	dataJSON, err := marshalIfSet("data", data)
	if err != nil {
		return nil, err
	}
	return &Error{Code: code, Message: message, Data: dataJSON}, nil
}

// InternalErrorFrom wraps an arbitrary Go error into an InternalError,
// capturing a traceback in Data for diagnostics. This is the path a
// handler's uncaught panic or unexpected error takes before it's written
// back to the caller as a response.
func InternalErrorFrom(cause error) *Error {
	wrapped := errors.WithStack(cause)
	detail := struct {
		Cause     string `json:"cause"`
		Traceback string `json:"traceback,omitempty"`
	}{
		Cause:     cause.Error(),
		Traceback: fmt.Sprintf("%+v", wrapped),
	}
	data, err := json.Marshal(detail)
	if err != nil {
		// Marshaling our own fixed-shape struct cannot fail short of an
		// out-of-memory condition; fall back to a dataless error rather
		// than propagate a marshal failure from an error path.
		return &Error{Code: CodeInternalError, Message: "Internal error: " + cause.Error()}
	}
	return &Error{Code: CodeInternalError, Message: "Internal error: " + cause.Error(), Data: data}
}

// AsRPCError reports whether err is (or wraps) a *Error, the signal a
// handler uses to emit a specific error response verbatim rather than
// falling back to InternalError.
func AsRPCError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// FromWire decodes a wire error object back into the richest type this
// library understands: a known code keeps its identity; an unrecognized
// one becomes a generic *Error carrying the original code untouched, so
// ToWire(FromWire(x)) always reproduces x byte for byte.
func FromWire(e *Error) *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message, Data: e.Data}
}

// ToWire is the identity projection of an *Error onto the wire shape; kept
// as a named function so the round-trip law in callers and tests reads as
// ToWire(FromWire(x)) rather than relying on Error's fields being exported.
func ToWire(e *Error) *Error {
	return e
}
