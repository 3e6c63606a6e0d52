// Package transport provides the byte-oriented transport layer consumed by the
// protocol engine.
//
// A Transport moves whole serialized envelopes. It does not interpret them:
// correlation, dispatch and error mapping belong to the engine. Transports
// report inbound data, closure and failures through three callback slots that
// the engine installs before calling Start.
//
// # Implementations
//
// StdioTransport reads newline-delimited envelopes from an io.Reader and
// writes them to an io.Writer. It is the transport used by CLI tools that
// talk over standard input and output.
//
// InMemoryTransport comes in connected pairs from NewInMemoryPair. It is used
// to connect two engines in one process, mostly in tests and examples.
//
// # Configuration
//
// NewTransport builds a stdio transport from a TransportConfig and wraps it
// with the middleware the config enables:
//
//	config := transport.DefaultTransportConfig(transport.TransportTypeStdio)
//	config.Features.EnableReliability = true
//	config.Reliability.CircuitBreaker.Enabled = true
//	t, err := transport.NewTransport(config)
//	if err != nil {
//		return err
//	}
//	err = eng.Connect(ctx, t)
//
// # Middleware
//
// Middleware wraps a Transport in another Transport. ChainMiddleware composes
// several, outermost first.
//
//   - ObservabilityMiddleware logs traffic and keeps in-process counters
//   - ReliabilityMiddleware retries retryable send failures with exponential
//     backoff and can open a circuit after repeated failures
//
// Custom middleware implements Middleware or uses MiddlewareFunc. The
// transporttest subpackage provides a scriptable fake for engine tests.
package transport
