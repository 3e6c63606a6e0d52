// Package mcp provides a bidirectional JSON-RPC 2.0 protocol engine for the
// Model Context Protocol.
//
// Both ends of an MCP connection are peers: either side may send requests,
// answer requests and emit notifications over the same transport. The engine
// correlates every outgoing request with its response, dispatches inbound
// traffic to registered handlers and routes progress updates back to the
// request that asked for them. This package is the root of the module and
// re-exports the most common entry points of its sub-packages.
//
// # Overview
//
// The module consists of several sub-packages:
//
//   - pkg/engine: The protocol engine (lifecycle, requests, dispatch)
//   - pkg/protocol: Envelope types, request ids and the envelope validator
//   - pkg/transport: The transport contract plus stdio and in-memory transports
//   - pkg/errors: Coded error taxonomy and JSON-RPC error conversion
//   - pkg/logging: Structured logging
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Connecting Two Peers
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/mcp-protocol-go"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    left, right := mcp.NewInMemoryPair()
//
//	    server := mcp.NewEngine()
//	    server.SetRequestHandler("echo", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
//	        return req.Params, nil
//	    })
//	    if err := server.Connect(ctx, right); err != nil {
//	        // Handle error
//	    }
//	    defer server.Close()
//
//	    client := mcp.NewEngine(mcp.WithRequestTimeout(5 * time.Second))
//	    if err := client.Connect(ctx, left); err != nil {
//	        // Handle error
//	    }
//	    defer client.Close()
//
//	    result, err := client.Request(ctx, "echo", map[string]string{"text": "hi"})
//	    if errors.Is(err, mcp.ErrTimeout) {
//	        // No answer in time
//	    }
//	    _ = result
//	}
//
// # Progress
//
// A request made with WithProgress carries a progress token in
// params._meta.progressToken. Progress notifications naming that token are
// delivered to the callback until the request settles:
//
//	result, err := client.Request(ctx, "tools/call", params,
//	    mcp.WithProgress(func(p protocol.ProgressParams) {
//	        log.Printf("%.0f done", p.Progress)
//	    }),
//	    mcp.WithResetTimeoutOnProgress(time.Minute),
//	)
//
// # Examples
//
// The examples directory contains echo, a runnable pair of engines exchanging
// requests, notifications and progress over an in-memory transport.
package mcp
