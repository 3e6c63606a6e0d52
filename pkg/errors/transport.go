package errors

import (
	"fmt"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport    string        `json:"transport"`
	Operation    string        `json:"operation,omitempty"`
	Connected    bool          `json:"connected"`
	Retryable    bool          `json:"retryable"`
	Reason       string        `json:"reason,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
}

func transportError(transport, operation, message string, cause error, data *TransportErrorData) CodedError {
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
		if data.Reason == "" {
			data.Reason = cause.Error()
		}
	}
	data.Transport = transport
	data.Operation = operation

	err := newKind(ErrTransport, CodeTransportError, message, cause)
	err.data = data
	err.context.Component = transport
	err.context.Operation = operation
	return err
}

// StdioTransportError creates an error for stdio transport issues
func StdioTransportError(operation string, cause error) CodedError {
	return transportError("stdio", operation,
		fmt.Sprintf("Stdio transport error during %s", operation), cause,
		&TransportErrorData{Connected: true})
}

// MessageSendError creates an error for message sending failures
func MessageSendError(transport string, cause error) CodedError {
	return transportError(transport, "send_message",
		fmt.Sprintf("Failed to send message via %s", transport), cause,
		&TransportErrorData{Connected: true, Retryable: true})
}

// TransportAlreadyRunning creates an error for transports started twice
func TransportAlreadyRunning(transport string) CodedError {
	return transportError(transport, "start",
		fmt.Sprintf("%s transport is already running", transport), nil,
		&TransportErrorData{Connected: true, Reason: "already running"})
}

// TransportClosed creates an error for operations on closed transports
func TransportClosed(transport string) CodedError {
	return transportError(transport, "send_message",
		fmt.Sprintf("%s transport is closed", transport), nil,
		&TransportErrorData{Reason: "closed"})
}

// CircuitOpen creates an error for sends rejected by an open circuit breaker
func CircuitOpen(transport string, retryIn time.Duration) CodedError {
	return transportError(transport, "send_message",
		fmt.Sprintf("Circuit breaker open for %s transport, retry in %v", transport, retryIn), nil,
		&TransportErrorData{Retryable: true, Reason: "circuit open"})
}

// MessageTooLarge creates an error for messages that exceed size limits
func MessageTooLarge(transport string, messageSize, maxSize int) CodedError {
	return transportError(transport, "send_message",
		fmt.Sprintf("Message size %d exceeds maximum allowed size %d for %s transport", messageSize, maxSize, transport), nil,
		&TransportErrorData{Connected: true, Reason: fmt.Sprintf("message size %d > max %d", messageSize, maxSize)})
}
