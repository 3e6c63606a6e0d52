package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

// Transport event names recorded by the middleware
const (
	EventSend    = "send"
	EventReceive = "receive"
	EventError   = "error"
	EventClose   = "close"
)

// TransportMiddleware records transport traffic as Prometheus metrics and
// OpenTelemetry spans. Both providers are optional.
type TransportMiddleware struct {
	metrics MetricsProvider
	tracer  *TracingProvider
	name    string
}

// NewTransportMiddleware creates a middleware reporting to metrics and
// tracer. name labels the spans, for example "stdio".
func NewTransportMiddleware(metrics MetricsProvider, tracer *TracingProvider, name string) *TransportMiddleware {
	if metrics == nil {
		metrics = NewNoopMetricsProvider()
	}
	if name == "" {
		name = "transport"
	}
	return &TransportMiddleware{metrics: metrics, tracer: tracer, name: name}
}

// Wrap implements transport.Middleware
func (m *TransportMiddleware) Wrap(next transport.Transport) transport.Transport {
	return &instrumentedTransport{next: next, middleware: m}
}

var _ transport.Middleware = (*TransportMiddleware)(nil)

// instrumentedTransport decorates every Transport method of next
type instrumentedTransport struct {
	next       transport.Transport
	middleware *TransportMiddleware
}

func (t *instrumentedTransport) Start(ctx context.Context) error {
	return t.next.Start(ctx)
}

// Send records one span and one event per envelope sent
func (t *instrumentedTransport) Send(ctx context.Context, data []byte) error {
	m := t.middleware

	ctx, span := m.tracer.StartSpan(ctx, m.name+".send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.Int("messaging.message.body.size", len(data))),
	)

	start := time.Now()
	err := t.next.Send(ctx, data)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordTransportEvent(ctx, EventSend, status, duration)
	EndSpan(span, status, err)

	return err
}

func (t *instrumentedTransport) Close() error {
	start := time.Now()
	err := t.next.Close()

	status := "success"
	if err != nil {
		status = "error"
	}
	t.middleware.metrics.RecordTransportEvent(context.Background(), EventClose, status, time.Since(start))
	return err
}

// SetMessageHandler times the handling of every inbound envelope
func (t *instrumentedTransport) SetMessageHandler(handler transport.MessageHandler) {
	if handler == nil {
		t.next.SetMessageHandler(nil)
		return
	}

	m := t.middleware
	t.next.SetMessageHandler(func(data []byte) {
		start := time.Now()
		handler(data)
		m.metrics.RecordTransportEvent(context.Background(), EventReceive, "success", time.Since(start))
	})
}

func (t *instrumentedTransport) SetCloseHandler(handler transport.CloseHandler) {
	t.next.SetCloseHandler(handler)
}

// SetErrorHandler counts transport errors
func (t *instrumentedTransport) SetErrorHandler(handler transport.ErrorHandler) {
	m := t.middleware
	t.next.SetErrorHandler(func(err error) {
		m.metrics.RecordTransportEvent(context.Background(), EventError, "error", 0)
		if handler != nil {
			handler(err)
		}
	})
}
