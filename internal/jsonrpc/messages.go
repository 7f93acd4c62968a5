package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. The id member is always present
// and encodes as null when the request id could not be determined.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// NewNotification builds a server-initiated notification.
func NewNotification(method string, params any) (*Request, error) {
	n := &Request{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		n.Params = b
	}
	return n, nil
}

// wireMessage captures the raw members so presence can be told apart from
// null (an explicit "id": null is still a request).
type wireMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params"`
	Result         json.RawMessage `json:"result"`
	Error          *Error          `json:"error"`
	ID             json.RawMessage `json:"id"`
}

// ParseMessage decodes a single JSON-RPC message. On failure the returned
// *Error carries the code to answer with and the returned message holds
// whatever id could be recovered, so callers can always build a response.
func ParseMessage(data []byte) (*AnyMessage, *Error) {
	msg := &AnyMessage{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return msg, &Error{Code: ErrorCodeParseError, Message: "Parse error: empty message"}
	}
	if trimmed[0] == '[' {
		if !json.Valid(trimmed) {
			return msg, &Error{Code: ErrorCodeParseError, Message: "Parse error: invalid JSON"}
		}
		return msg, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: batch arrays are not supported"}
	}

	var raw wireMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || !json.Valid(trimmed) {
			return msg, &Error{Code: ErrorCodeParseError, Message: "Parse error: invalid JSON"}
		}
		return msg, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: Not a valid JSON-RPC 2.0 request"}
	}

	if len(raw.ID) > 0 {
		var id RequestID
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return msg, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: " + err.Error()}
		}
		msg.ID = &id
	}

	if raw.JSONRPCVersion != ProtocolVersion {
		return msg, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: Not a valid JSON-RPC 2.0 request"}
	}

	if err := validateShape(raw.Method != "", len(raw.Result) > 0, raw.Error != nil); err != nil {
		return msg, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: " + err.Error()}
	}

	msg.JSONRPCVersion = raw.JSONRPCVersion
	msg.Method = raw.Method
	msg.Params = raw.Params
	msg.Result = raw.Result
	msg.Error = raw.Error
	return msg, nil
}

func validateShape(hasMethod, hasResult, hasError bool) error {
	if hasMethod {
		if hasResult || hasError {
			return errors.New("request message cannot have result or error fields")
		}
		return nil
	}
	if hasResult && hasError {
		return errors.New("response message cannot have both result and error fields")
	}
	if !hasResult && !hasError {
		return errors.New("message must have a method, a result or an error")
	}
	return nil
}

// UnmarshalJSON enforces JSON-RPC 2.0 semantics and validates message
// structure.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	parsed, rpcErr := ParseMessage(data)
	if rpcErr != nil {
		return rpcErr
	}
	*m = *parsed
	return nil
}

// Type returns "request", "notification" or "response".
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID == nil {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the message as a Request if it is a request or
// notification, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it is a response message,
// otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}
