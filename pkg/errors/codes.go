package errors

// JSON-RPC 2.0 Standard Error Codes
// These map to the existing protocol error codes
const (
	// ParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// InvalidRequest indicates the JSON sent is not a valid envelope
	CodeInvalidRequest int = -32600

	// MethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// InvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// InternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Engine Error Codes (-32000 to -32099)
// The range is an open enumeration: peers may send any code in it and
// unknown codes are passed through untouched.
const (
	CodeConnectionClosed   int = -32000 // Connection closed before the request settled
	CodeRequestTimeout     int = -32001 // Request deadline elapsed
	CodeRequestCancelled   int = -32002 // Caller cancelled the request
	CodeNotConnected       int = -32003 // No transport attached
	CodeIDSpaceExhausted   int = -32004 // Request id counter exhausted
	CodeTransportError     int = -32005 // Transport failed to send or receive
	CodeProtocolViolation  int = -32006 // Envelope fits no known shape
	CodeAlreadyConnected   int = -32007 // A transport is already attached
	CodeUnmatchedResponse  int = -32008 // Response id matches no outstanding request
	CodeEngineClosed       int = -32009 // Engine is closed and cannot be reused
	CodeDuplicateRequestID int = -32010 // Pending table already holds the id
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

// errorCodeRegistry maps error codes to their information
var errorCodeRegistry = map[int]ErrorCodeInfo{
	// JSON-RPC Standard Errors
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	// Engine Errors
	CodeConnectionClosed:   {CodeConnectionClosed, "ConnectionClosed", "Connection closed", CategoryTransport, SeverityError},
	CodeRequestTimeout:     {CodeRequestTimeout, "RequestTimeout", "Request timed out", CategoryTimeout, SeverityError},
	CodeRequestCancelled:   {CodeRequestCancelled, "RequestCancelled", "Request cancelled", CategoryCancelled, SeverityInfo},
	CodeNotConnected:       {CodeNotConnected, "NotConnected", "Not connected", CategoryTransport, SeverityError},
	CodeIDSpaceExhausted:   {CodeIDSpaceExhausted, "IDSpaceExhausted", "Request id space exhausted", CategoryInternal, SeverityCritical},
	CodeTransportError:     {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
	CodeProtocolViolation:  {CodeProtocolViolation, "ProtocolViolation", "Protocol violation", CategoryProtocol, SeverityWarning},
	CodeAlreadyConnected:   {CodeAlreadyConnected, "AlreadyConnected", "Transport already attached", CategoryInternal, SeverityError},
	CodeUnmatchedResponse:  {CodeUnmatchedResponse, "UnmatchedResponse", "Response for unknown request id", CategoryProtocol, SeverityWarning},
	CodeEngineClosed:       {CodeEngineClosed, "EngineClosed", "Engine closed", CategoryInternal, SeverityError},
	CodeDuplicateRequestID: {CodeDuplicateRequestID, "DuplicateRequestID", "Request id already pending", CategoryInternal, SeverityCritical},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryRemote
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code int) Severity {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}

// IsStandardJSONRPCCode checks if a code is reserved by JSON-RPC 2.0
func IsStandardJSONRPCCode(code int) bool {
	return code >= -32768 && code <= -32000
}

// IsEngineCode checks if a code falls in the engine's own range
func IsEngineCode(code int) bool {
	return code >= -32099 && code <= -32000
}
