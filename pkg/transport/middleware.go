package transport

import (
	"context"
)

// Middleware represents a transport middleware that can wrap a transport
// to add additional functionality like reliability, observability, etc.
type Middleware interface {
	// Wrap wraps the given transport with middleware functionality
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		// Apply middleware in reverse order so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// middlewareTransport is a base type for middleware implementations. It
// delegates every call to next.
type middlewareTransport struct {
	next Transport
}

// Start delegates to the wrapped transport
func (m *middlewareTransport) Start(ctx context.Context) error {
	return m.next.Start(ctx)
}

// Send delegates to the wrapped transport
func (m *middlewareTransport) Send(ctx context.Context, data []byte) error {
	return m.next.Send(ctx, data)
}

// Close delegates to the wrapped transport
func (m *middlewareTransport) Close() error {
	return m.next.Close()
}

// SetMessageHandler delegates to the wrapped transport
func (m *middlewareTransport) SetMessageHandler(handler MessageHandler) {
	m.next.SetMessageHandler(handler)
}

// SetCloseHandler delegates to the wrapped transport
func (m *middlewareTransport) SetCloseHandler(handler CloseHandler) {
	m.next.SetCloseHandler(handler)
}

// SetErrorHandler delegates to the wrapped transport
func (m *middlewareTransport) SetErrorHandler(handler ErrorHandler) {
	m.next.SetErrorHandler(handler)
}

// Unwrap returns the wrapped transport
func (m *middlewareTransport) Unwrap() Transport {
	return m.next
}

// MiddlewareBuilder builds middleware from configuration
type MiddlewareBuilder struct {
	config TransportConfig
}

// NewMiddlewareBuilder creates a new middleware builder
func NewMiddlewareBuilder(config TransportConfig) *MiddlewareBuilder {
	return &MiddlewareBuilder{config: config}
}

// Build constructs the middleware chain based on configuration. The first
// element ends up outermost.
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	// Observability sees every attempt the caller makes, retries stay inside
	if mb.config.Features.EnableObservability {
		middleware = append(middleware, NewObservabilityMiddleware(mb.config.Observability))
	}

	if mb.config.Features.EnableReliability {
		middleware = append(middleware, NewReliabilityMiddleware(mb.config.Reliability, mb.config.Observability.Logger))
	}

	return middleware
}
