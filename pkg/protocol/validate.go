package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEnvelope is matched by every ValidationError
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ValidationError reports why raw data is not a well-formed envelope
type ValidationError struct {
	Reason string
	Cause  error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidEnvelope, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEnvelope, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidEnvelope) hold
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEnvelope
}

// Unwrap returns the decoding error, if any
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Validate decodes raw data and checks the version tag against JSONRPCVersion.
func Validate(data []byte) (*Message, error) {
	return ValidateVersion(data, JSONRPCVersion)
}

// ValidateVersion decodes raw data and checks the version tag against version.
// Only the envelope is checked; method-specific params are left untouched.
func ValidateVersion(data []byte, version string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON", Cause: err}
	}

	if msg.JSONRPC == "" {
		return nil, &ValidationError{Reason: "missing jsonrpc version"}
	}
	if msg.JSONRPC != version {
		return nil, &ValidationError{Reason: fmt.Sprintf("unsupported jsonrpc version %q, expected %q", msg.JSONRPC, version)}
	}

	return &msg, nil
}
