package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents a JSON-RPC error code carried in an error response
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Kind classifies an inbound envelope
type Kind int

const (
	// KindInvalid is an envelope that fits none of the four wire shapes
	KindInvalid Kind = iota
	// KindRequest carries an id and a method
	KindRequest
	// KindNotification carries a method and no id
	KindNotification
	// KindResponse carries an id and either a result or an error
	KindResponse
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is the union of all four wire shapes. Inbound data is decoded into a
// Message first and classified with Kind before being narrowed.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies the message by the presence of id, method, result and error.
func (m *Message) Kind() Kind {
	hasID := !m.ID.IsZero()
	hasMethod := m.Method != ""
	hasResult := m.Result != nil
	hasError := m.Error != nil

	switch {
	case hasID && hasMethod && !hasResult && !hasError:
		return KindRequest
	case hasID && !hasMethod && hasResult != hasError:
		return KindResponse
	case !hasID && hasMethod && !hasResult && !hasError:
		return KindNotification
	default:
		return KindInvalid
	}
}

// AsRequest narrows the message to a Request
func (m *Message) AsRequest() *Request {
	return &Request{JSONRPC: m.JSONRPC, ID: *m.ID, Method: m.Method, Params: m.Params}
}

// AsNotification narrows the message to a Notification
func (m *Message) AsNotification() *Notification {
	return &Notification{JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params}
}

// AsResponse narrows the message to a Response
func (m *Message) AsResponse() *Response {
	return &Response{JSONRPC: m.JSONRPC, ID: *m.ID, Result: m.Result, Error: m.Error}
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id RequestID, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response. A nil result is
// encoded as an empty object so the response always carries a result field.
func NewResponse(id RequestID, result interface{}) (*Response, error) {
	var resultJSON json.RawMessage
	if result == nil {
		resultJSON = json.RawMessage(`{}`)
	} else {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id RequestID, code ErrorCode, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface so a wire error can be returned as-is
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
