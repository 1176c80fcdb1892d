package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only protocol version emitted and accepted.
const Version = "2.0"

// Methods used against MCP servers.
const (
	MethodInitialize    = string(mcp.MethodInitialize)
	MethodInitialized   = "notifications/initialized"
	MethodPing          = string(mcp.MethodPing)
	MethodToolsList     = string(mcp.MethodToolsList)
	MethodToolsCall     = string(mcp.MethodToolsCall)
	MethodResourcesList = string(mcp.MethodResourcesList)
	MethodPromptsList   = string(mcp.MethodPromptsList)
)

// Standard JSON-RPC codes and the MCP-specific server error codes.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR

	CodeUnauthorized     = -32002
	CodeForbidden        = -32003
	CodeNotFound         = -32004
	CodeMethodNotAllowed = -32005
	CodeTimeout          = -32008
	CodeCancelled        = -32009

	// Implementation-defined server errors occupy this range.
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

// ErrNoResponse is returned when a payload or stream ends without a response
// for the outstanding request id.
var ErrNoResponse = errors.New("no JSON-RPC response for request")

// Request is an outbound call. A nil ID makes it a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with a numeric id.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

// Error is a JSON-RPC error object. It doubles as a Go error so callers can
// recover it with errors.As.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// IsServerErrorRange reports whether the code is in the implementation-defined range.
func (e *Error) IsServerErrorRange() bool {
	return e.Code >= CodeServerErrorMin && e.Code <= CodeServerErrorMax
}

// Response is an inbound message. Server-initiated requests and notifications
// also decode into it; they carry a Method and are skipped by id matching.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NumericID returns the id as an integer. String ids holding digits are
// accepted since some servers echo ids back quoted.
func (r *Response) NumericID() (int64, bool) {
	raw := bytes.TrimSpace(r.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// IsResponse reports whether the message answers a request rather than
// being a server-initiated request or notification.
func (r *Response) IsResponse() bool {
	return r.Method == "" && (r.Result != nil || r.Error != nil)
}

// Err returns the embedded error object, if any, as a Go error.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// ParseMessages decodes a single message or a batch array.
func ParseMessages(data []byte) ([]*Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var batch []*Response
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding JSON-RPC batch: %w", err)
		}
		return batch, nil
	}
	var single Response
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decoding JSON-RPC message: %w", err)
	}
	return []*Response{&single}, nil
}

// Match returns the response answering id. A lone error response without an
// id is also returned, since servers reply to unparseable requests that way.
func Match(msgs []*Response, id int64) (*Response, bool) {
	for _, m := range msgs {
		if m == nil || !m.IsResponse() {
			continue
		}
		if got, ok := m.NumericID(); ok && got == id {
			return m, true
		}
	}
	if len(msgs) == 1 && msgs[0] != nil && msgs[0].Error != nil {
		if _, hasID := msgs[0].NumericID(); !hasID {
			return msgs[0], true
		}
	}
	return nil, false
}
