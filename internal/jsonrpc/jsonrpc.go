// Package jsonrpc implements the JSON-RPC 2.0 framing shared by the MCP
// tool adapter and the subprocess kernel channel. Messages are
// newline-delimited JSON over a byte stream.
//
// JSON-RPC 2.0 specification: https://www.jsonrpc.org/specification
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Version is the protocol version carried in every message.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request represents a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// IDGenerator produces unique request IDs for one connection.
type IDGenerator struct {
	counter atomic.Int64
}

// Next returns the next request ID.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}

// NewRequest creates a request with marshalled params. Params may be nil.
func NewRequest(id any, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

// NewResponse creates a successful response.
func NewResponse(id any, result any) (*Response, error) {
	resp := &Response{JSONRPC: Version, ID: id}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}
	return resp, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// UnmarshalResponse parses and validates a response frame.
func UnmarshalResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "failed to parse response", Data: err.Error()}
	}
	if resp.JSONRPC != Version {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid JSON-RPC version: %s", resp.JSONRPC)}
	}
	return &resp, nil
}

// UnmarshalRequest parses and validates a request frame.
func UnmarshalRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "failed to parse request", Data: err.Error()}
	}
	if req.JSONRPC != Version {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid JSON-RPC version: %s", req.JSONRPC)}
	}
	return &req, nil
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}
