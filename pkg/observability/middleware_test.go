package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport/transporttest"
)

func TestTransportMiddleware(t *testing.T) {
	metrics := newTestProvider(t)
	tracer, exporter := newTestTracing(t, TracingConfig{})

	fake := transporttest.New()
	tr := NewTransportMiddleware(metrics, tracer, "fake").Wrap(fake)

	var received []string
	tr.SetMessageHandler(func(data []byte) { received = append(received, string(data)) })
	var reported []error
	tr.SetErrorHandler(func(err error) { reported = append(reported, err) })
	closed := false
	tr.SetCloseHandler(func() { closed = true })

	require.NoError(t, tr.Start(context.Background()))
	assert.True(t, fake.Started())

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"a"}`)))
	fake.FailSends(errors.New("pipe"))
	assert.Error(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"b"}`)))
	fake.FailSends(nil)

	fake.Deliver(`{"jsonrpc":"2.0","method":"in"}`)
	fake.SimulateError(mcperrors.StdioTransportError("read_input", errors.New("x")))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{`{"jsonrpc":"2.0","method":"in"}`}, received)
	require.Len(t, reported, 1)
	assert.True(t, closed)
	assert.True(t, fake.Closed())

	count, err := testutil.GatherAndCount(metrics.Registry(), "mcp_engine_transport_event_duration_milliseconds")
	require.NoError(t, err)
	assert.Equal(t, 5, count, "send success, send error, receive, error and close series")

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "fake.send", span.Name)
		assert.Equal(t, trace.SpanKindProducer, span.SpanKind)
	}
}

func TestTransportMiddlewareDefaults(t *testing.T) {
	fake := transporttest.New()
	tr := NewTransportMiddleware(nil, nil, "").Wrap(fake)

	require.NoError(t, tr.Send(context.Background(), []byte("x")))
	assert.Len(t, fake.Sent(), 1)

	// A nil handler is passed through untouched
	tr.SetMessageHandler(nil)
	fake.Deliver("ignored")
}

func TestTransportMiddlewareSendSpanAttributes(t *testing.T) {
	tracer, exporter := newTestTracing(t, TracingConfig{})
	tr := NewTransportMiddleware(nil, tracer, "stdio").Wrap(transporttest.New())

	payload := strings.Repeat("z", 42)
	require.NoError(t, tr.Send(context.Background(), []byte(payload)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	var size int64
	for _, kv := range spans[0].Attributes {
		if kv.Key == "messaging.message.body.size" {
			size = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(42), size)
}
