package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// Sentinels for the engine error taxonomy. Every CodedError built by the
// constructors below matches exactly one of them with errors.Is.
var (
	ErrInvalidEnvelope    = protocol.ErrInvalidEnvelope
	ErrNotConnected       = stderrors.New("not connected")
	ErrMethodNotFound     = stderrors.New("method not found")
	ErrHandlerFailure     = stderrors.New("handler failure")
	ErrRemote             = stderrors.New("remote error")
	ErrTimeout            = stderrors.New("request timed out")
	ErrCancelled          = stderrors.New("request cancelled")
	ErrConnectionClosed   = stderrors.New("connection closed")
	ErrAlreadyConnected   = stderrors.New("already connected")
	ErrEngineClosed       = stderrors.New("engine closed")
	ErrIDSpaceExhausted   = stderrors.New("request id space exhausted")
	ErrTransport          = stderrors.New("transport error")
	ErrProtocolViolation  = stderrors.New("protocol violation")
	ErrUnmatchedResponse  = stderrors.New("unmatched response")
	ErrDuplicateRequestID = stderrors.New("duplicate request id")
)

// RequestErrorData is attached to errors that concern a single outgoing request
type RequestErrorData struct {
	Method    string        `json:"method,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// InvalidEnvelope reports inbound data that failed validation
func InvalidEnvelope(reason string, cause error) CodedError {
	return newKind(ErrInvalidEnvelope, CodeInvalidRequest, "Invalid envelope", cause).
		WithDetail(reason)
}

// NotConnected is returned by operations that need an attached transport
func NotConnected(operation string) CodedError {
	err := newKind(ErrNotConnected, CodeNotConnected, "Not connected", nil)
	err.context.Operation = operation
	return err
}

// MethodNotFound is sent to the peer when no handler or fallback exists
func MethodNotFound(method string) CodedError {
	err := newKind(ErrMethodNotFound, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), nil)
	err.context.Method = method
	return err
}

// HandlerFailure wraps a failure raised by an inbound handler. A coded or
// remote cause keeps its own code; anything else is reported as an internal
// error carrying the cause's text.
func HandlerFailure(method string, cause error) CodedError {
	code, message := CodeInternalError, "Internal error"
	var data interface{}
	if wire := ToJSONRPCError(cause); wire != nil {
		code, message, data = int(wire.Code), wire.Message, wire.Data
	}

	err := newKind(ErrHandlerFailure, code, message, cause)
	err.data = data
	err.context.Method = method
	return err
}

// Timeout settles a request whose deadline elapsed first
func Timeout(method string, id protocol.RequestID, d time.Duration) CodedError {
	message := fmt.Sprintf("Request %s timed out", id)
	if d > 0 {
		message = fmt.Sprintf("%s after %v", message, d)
	}
	err := newKind(ErrTimeout, CodeRequestTimeout, message, nil)
	err.data = &RequestErrorData{Method: method, RequestID: id.String(), Timeout: d}
	err.context.Method = method
	err.context.RequestID = id.String()
	return err
}

// Cancelled settles a request whose caller gave up first
func Cancelled(method string, id protocol.RequestID, cause error) CodedError {
	err := newKind(ErrCancelled, CodeRequestCancelled, fmt.Sprintf("Request %s cancelled", id), cause)
	err.data = &RequestErrorData{Method: method, RequestID: id.String()}
	err.context.Method = method
	err.context.RequestID = id.String()
	return err
}

// ConnectionClosed settles every request outstanding when the connection goes away
func ConnectionClosed(cause error) CodedError {
	return newKind(ErrConnectionClosed, CodeConnectionClosed, "Connection closed", cause)
}

// AlreadyConnected is returned when a second transport is attached
func AlreadyConnected() CodedError {
	return newKind(ErrAlreadyConnected, CodeAlreadyConnected, "Transport already attached", nil)
}

// EngineClosed is returned when connecting an engine that was closed
func EngineClosed() CodedError {
	return newKind(ErrEngineClosed, CodeEngineClosed, "Engine closed", nil)
}

// IDSpaceExhausted is returned once the id counter cannot advance
func IDSpaceExhausted() CodedError {
	return newKind(ErrIDSpaceExhausted, CodeIDSpaceExhausted, "Request id space exhausted", nil)
}

// TransportError wraps a failure reported by the transport
func TransportError(operation string, cause error) CodedError {
	message := "Transport error"
	if operation != "" {
		message = fmt.Sprintf("Transport error during %s", operation)
	}
	err := newKind(ErrTransport, CodeTransportError, message, cause)
	err.context.Operation = operation
	return err
}

// ProtocolViolation reports a valid envelope that fits no known shape
func ProtocolViolation(reason string) CodedError {
	return newKind(ErrProtocolViolation, CodeProtocolViolation, "Protocol violation", nil).
		WithDetail(reason)
}

// UnmatchedResponse reports a response whose id matches no outstanding request
func UnmatchedResponse(id protocol.RequestID) CodedError {
	err := newKind(ErrUnmatchedResponse, CodeUnmatchedResponse,
		fmt.Sprintf("Response for unknown request %s", id), nil)
	err.context.RequestID = id.String()
	return err
}

// DuplicateRequestID is returned when the pending table already holds an id
func DuplicateRequestID(id protocol.RequestID) CodedError {
	err := newKind(ErrDuplicateRequestID, CodeDuplicateRequestID,
		fmt.Sprintf("Request %s already pending", id), nil)
	err.context.RequestID = id.String()
	return err
}

// RemoteError is an error response returned by the peer to an outgoing request
type RemoteError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d (%s): %s", e.Code, GetErrorCodeName(e.Code), e.Message)
}

// Is makes errors.Is(err, ErrRemote) hold
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// Category classifies the remote code using the local registry
func (e *RemoteError) Category() Category {
	return GetErrorCodeCategory(e.Code)
}

// Kind returns the taxonomy sentinel matched by err, or nil
func Kind(err error) error {
	if err == nil {
		return nil
	}
	var be *baseError
	if stderrors.As(err, &be) && be.kind != nil {
		return be.kind
	}
	for _, kind := range []error{
		ErrInvalidEnvelope, ErrNotConnected, ErrMethodNotFound, ErrHandlerFailure,
		ErrRemote, ErrTimeout, ErrCancelled, ErrConnectionClosed,
		ErrAlreadyConnected, ErrEngineClosed, ErrIDSpaceExhausted, ErrTransport,
		ErrProtocolViolation, ErrUnmatchedResponse, ErrDuplicateRequestID,
	} {
		if stderrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short label for err suitable for metrics and logs
func KindName(err error) string {
	switch Kind(err) {
	case ErrInvalidEnvelope:
		return "invalid_envelope"
	case ErrNotConnected:
		return "not_connected"
	case ErrMethodNotFound:
		return "method_not_found"
	case ErrHandlerFailure:
		return "handler_failure"
	case ErrRemote:
		return "remote_error"
	case ErrTimeout:
		return "timeout"
	case ErrCancelled:
		return "cancelled"
	case ErrConnectionClosed:
		return "connection_closed"
	case ErrAlreadyConnected:
		return "already_connected"
	case ErrEngineClosed:
		return "engine_closed"
	case ErrIDSpaceExhausted:
		return "id_space_exhausted"
	case ErrTransport:
		return "transport"
	case ErrProtocolViolation:
		return "protocol_violation"
	case ErrUnmatchedResponse:
		return "unmatched_response"
	case ErrDuplicateRequestID:
		return "duplicate_request_id"
	default:
		return "unknown"
	}
}
