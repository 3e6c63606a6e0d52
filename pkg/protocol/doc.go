// Package protocol defines the JSON-RPC 2.0 shaped envelope exchanged by the
// protocol engine.
//
// The package is agnostic to method names and payload shapes. It knows about
// exactly four wire shapes that share the fixed version tag "2.0":
//
//   - Request: {id, method, params?}
//   - Notification: {method, params?}, never answered
//   - Response: {id, result}
//   - Error response: {id, error: {code, message, data?}}
//
// # Package Organization
//
//   - jsonrpc.go: envelope types, error codes and classification
//   - requestid.go: the number-or-string request id
//   - validate.go: the envelope validator
//   - builtin.go: the small vocabulary the engine itself understands
//     (ping, progress and cancellation notifications, _meta.progressToken)
//
// # Validation
//
// Validate never panics and never unwinds: it returns either a decoded
// Message or a *ValidationError that matches ErrInvalidEnvelope.
//
//	msg, err := protocol.Validate(data)
//	if errors.Is(err, protocol.ErrInvalidEnvelope) {
//	    // drop and report
//	}
//	switch msg.Kind() {
//	case protocol.KindRequest:
//	    req := msg.AsRequest()
//	    ...
//	}
//
// # Example Messages
//
// Request carrying a progress token:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 3,
//	    "method": "tools/call",
//	    "params": {"name": "scan", "_meta": {"progressToken": 3}}
//	}
//
// Progress notification for that request:
//
//	{
//	    "jsonrpc": "2.0",
//	    "method": "notifications/progress",
//	    "params": {"progressToken": 3, "progress": 50, "total": 100}
//	}
//
// Error response:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 7,
//	    "error": {"code": -32601, "message": "Method not found: unknown"}
//	}
package protocol
