// Package jsonrpc2 implements a bidirectional JSON-RPC 2.0 endpoint over a
// framed duplex byte stream: a peer that can both serve inbound requests
// and issue outbound ones on the same connection, suitable as the base
// transport for protocols like the Language Server Protocol.
package jsonrpc2

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Version is the JSON-RPC protocol version string carried on every message.
const Version = "2.0"

// Message is the union of every shape a JSON-RPC 2.0 frame can take on the
// wire. ID/Params/Result stay as raw bytes so a request's ID is echoed back
// exactly as received (string vs. number) rather than round-tripped through
// a Go interface{} that could change its formatting.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Request is an inbound or outbound call expecting exactly one response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request by ID, carrying either Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a one-way message: no ID, no response expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Handler processes one inbound request or notification and returns a
// result value (for requests) or nil (for notifications). Returning a
// *task.Future[json.RawMessage] covers the "awaitable" case: the endpoint
// attaches a completion callback and emits the response asynchronously
// instead of immediately. ctx is cancelled when the endpoint shuts down.
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// IsRequest reports whether m carries both an id and a method with no
// result/error set yet — an inbound call awaiting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil && m.Result == nil && m.Error == nil
}

// IsResponse reports whether m answers a prior request by id.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsNotification reports whether m is a one-way message with no id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil && m.Result == nil && m.Error == nil
}

// ToRequest narrows m to a *Request, failing if m isn't shaped like one.
func (m *Message) ToRequest() (*Request, error) {
	if !m.IsRequest() {
		return nil, errors.Newf("message is not a request: method=%q id=%s", m.Method, string(m.ID))
	}
	return &Request{JSONRPC: m.JSONRPC, ID: m.ID, Method: m.Method, Params: m.Params}, nil
}

// ToResponse narrows m to a *Response, failing if m isn't shaped like one.
func (m *Message) ToResponse() (*Response, error) {
	if !m.IsResponse() {
		return nil, errors.Newf("message is not a response: id=%s", string(m.ID))
	}
	return &Response{JSONRPC: m.JSONRPC, ID: m.ID, Result: m.Result, Error: m.Error}, nil
}

// ToNotification narrows m to a *Notification, failing if m isn't shaped
// like one.
func (m *Message) ToNotification() (*Notification, error) {
	if !m.IsNotification() {
		return nil, errors.Newf("message is not a notification: method=%q", m.Method)
	}
	return &Notification{JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params}, nil
}

// NewRequest marshals id and params into a Request ready to write.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	idJSON, err := marshalIfSet("id", id)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := marshalIfSet("params", params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: idJSON, Method: method, Params: paramsJSON}, nil
}

// NewResponse builds a success or error response for id. Exactly one of
// result/err should be set; if err is non-nil, result is ignored.
func NewResponse(id json.RawMessage, result interface{}, err *Error) (*Response, error) {
	if err != nil {
		return &Response{JSONRPC: Version, ID: id, Error: err}, nil
	}
	resultJSON, marshalErr := marshalIfSet("result", result)
	if marshalErr != nil {
		return nil, marshalErr
	}
	return &Response{JSONRPC: Version, ID: id, Result: resultJSON}, nil
}

// NewNotification marshals params into a Notification ready to write.
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalIfSet("params", params)
	if err != nil {
		return nil, errors.Wrapf(err, "method %s", method)
	}
	return &Notification{JSONRPC: Version, Method: method, Params: paramsJSON}, nil
}

func marshalIfSet(field string, v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s (type %T)", field, v)
	}
	return b, nil
}

// Bind unmarshals the request's params into dst. Called "Bind" rather than
// "ParseParams" to match this library's own naming, not a borrowed one.
func (r *Request) Bind(dst interface{}) error {
	if r.Params == nil {
		return nil
	}
	if err := json.Unmarshal(r.Params, dst); err != nil {
		return errors.Wrapf(err, "method %s: failed to unmarshal params into %T", r.Method, dst)
	}
	return nil
}

// Bind unmarshals the notification's params into dst.
func (n *Notification) Bind(dst interface{}) error {
	if n.Params == nil {
		return nil
	}
	if err := json.Unmarshal(n.Params, dst); err != nil {
		return errors.Wrapf(err, "method %s: failed to unmarshal params into %T", n.Method, dst)
	}
	return nil
}

// RawID returns the request's ID decoded into a string or float64, mirroring
// how encoding/json would decode it into an interface{}.
func (r *Request) RawID() (interface{}, error) {
	var id interface{}
	if err := json.Unmarshal(r.ID, &id); err != nil {
		return nil, errors.Wrapf(err, "method %s: failed to unmarshal id %s", r.Method, string(r.ID))
	}
	return id, nil
}

// idKey renders a raw JSON id (string or number) into a stable map key.
// Two ids that are byte-identical on the wire always map to the same key;
// that is the only guarantee callers should rely on.
func idKey(id json.RawMessage) string {
	return string(id)
}
