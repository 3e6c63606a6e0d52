package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// ToJSONRPCResponse converts any error to a JSON-RPC error response
func ToJSONRPCResponse(err error, requestID protocol.RequestID) (*protocol.Response, error) {
	if err == nil {
		return nil, fmt.Errorf("cannot create error response from nil error")
	}

	wire := ToJSONRPCError(err)
	return protocol.NewErrorResponse(requestID, wire.Code, wire.Message, wire.Data), nil
}

// ToJSONRPCError converts any error to a JSON-RPC error object. Coded and
// remote errors keep their code, message and data; a *protocol.Error is
// passed through; anything else becomes an internal error.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if coded, ok := AsCodedError(err); ok {
		return &protocol.Error{
			Code:    protocol.ErrorCode(coded.Code()),
			Message: coded.Message(),
			Data:    coded.Data(),
		}
	}

	var remote *RemoteError
	if stderrors.As(err, &remote) {
		return &protocol.Error{
			Code:    protocol.ErrorCode(remote.Code),
			Message: remote.Message,
			Data:    remote.Data,
		}
	}

	var wire *protocol.Error
	if stderrors.As(err, &wire) {
		return wire
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// FromJSONRPCError converts a peer's error object to a RemoteError
func FromJSONRPCError(wire *protocol.Error) *RemoteError {
	if wire == nil {
		return nil
	}

	return &RemoteError{
		Code:    int(wire.Code),
		Message: wire.Message,
		Data:    wire.Data,
	}
}

// WithRequestContext attaches method and request id to a coded error. Any
// other error is wrapped as an internal error first.
func WithRequestContext(err error, method string, requestID protocol.RequestID) CodedError {
	if err == nil {
		return nil
	}

	context := &Context{
		Method:    method,
		RequestID: requestID.String(),
	}

	if coded, ok := AsCodedError(err); ok {
		if existing := coded.Context(); existing != nil {
			context.SessionID = existing.SessionID
			context.Timestamp = existing.Timestamp
			context.Component = existing.Component
			context.Operation = existing.Operation
		}
		return coded.WithContext(context)
	}

	return WrapError(
		err,
		CodeInternalError,
		fmt.Sprintf("Error processing %s", method),
		CategoryInternal,
		SeverityError,
	).WithContext(context)
}

// IsRetryableError reports whether a failed operation may be attempted again.
// Transport failures are retryable unless their data says otherwise; settled
// request outcomes never are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch Kind(err) {
	case ErrTransport:
		if coded, ok := AsCodedError(err); ok {
			if data, ok := coded.Data().(*TransportErrorData); ok {
				return data.Retryable
			}
		}
		return true
	case ErrTimeout, ErrCancelled, ErrConnectionClosed, ErrNotConnected,
		ErrEngineClosed, ErrMethodNotFound, ErrRemote:
		return false
	}

	if coded, ok := AsCodedError(err); ok {
		return coded.Category() == CategoryTransport
	}

	return false
}
