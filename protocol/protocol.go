// Package protocol defines the JSON-RPC 2.0 wire format spoken over the
// WebSocket connection.
//
// Every application frame is a UTF-8 JSON text frame carrying one envelope:
//
//	request:  {"id": 1, "jsonrpc": "2.0", "method": "system_name", "params": []}
//	response: {"id": 1, "jsonrpc": "2.0", "result": ...}
//	          {"id": 1, "jsonrpc": "2.0", "error": {"code": ..., "message": ...}}
//
// The id is the sole correlation key between a request and its response —
// responses may arrive in any order, so the receiver must never rely on
// arrival order matching dispatch order.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried in every envelope.
const Version = "2.0"

// Request is an outbound call envelope.
type Request struct {
	ID      uint64 `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// NewRequest builds a request envelope for the given id and method.
// A nil params slice is normalized to an empty array so the wire form is
// always "params": [] rather than "params": null.
func NewRequest(id uint64, method string, params []any) *Request {
	if params == nil {
		params = []any{}
	}
	return &Request{
		ID:      id,
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// Response is an inbound reply envelope. Exactly one of Result and Error is
// set on a well-formed response.
type Response struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error object of a failed call, as reported by the
// remote node.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeResponse parses and validates one inbound frame as a response
// envelope. Ids are allocated starting at 1, so an envelope with id 0 (or no
// id at all) is rejected as malformed rather than silently matched against
// nothing.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.JSONRPC != Version {
		return nil, fmt.Errorf("decode response: unsupported jsonrpc version %q", resp.JSONRPC)
	}
	if resp.ID == 0 {
		return nil, fmt.Errorf("decode response: missing id")
	}
	if resp.Result == nil && resp.Error == nil {
		return nil, fmt.Errorf("decode response: neither result nor error present")
	}
	if resp.Result != nil && resp.Error != nil {
		return nil, fmt.Errorf("decode response: both result and error present")
	}
	return &resp, nil
}
