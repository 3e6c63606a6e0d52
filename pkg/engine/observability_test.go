package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/observability"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

func newTestMetrics(t *testing.T) *observability.PrometheusMetricsProvider {
	t.Helper()
	cfg := observability.DefaultMetricsConfig()
	cfg.MetricsPort = 0
	metrics, err := observability.NewMetricsProvider(cfg)
	require.NoError(t, err)
	return metrics
}

// metricValue sums counter and gauge samples of name whose labels include want
func metricValue(t *testing.T, reg prometheus.Gatherer, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if !hasLabels(m, want) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, pair := range m.GetLabel() {
			if pair.GetName() == k && pair.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestEngineRecordsMetrics(t *testing.T) {
	metrics := newTestMetrics(t)
	e, ft := newConnected(t, WithMetrics(metrics), WithCancelNotifications(false))
	reg := metrics.Registry()

	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_connection_state", map[string]string{"state": "connected"}))

	ch := requestAsync(context.Background(), e, "tools/list", nil)
	ft.WaitForSent(t, 1, time.Second)
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_pending_requests", nil))
	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	require.NoError(t, waitResult(t, ch).err)

	_, err := e.Request(context.Background(), "slow", nil, WithTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, mcperrors.ErrTimeout)

	ft.Deliver(`{"jsonrpc":"2.0","id":99,"result":{}}`)
	ft.Deliver(`{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	ft.Deliver(`{"jsonrpc":"2.0","id":"q","method":"missing"}`)
	require.NoError(t, e.Notify(context.Background(), "notifications/message", nil))
	ft.WaitForSent(t, 5, time.Second)

	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_request_total",
		map[string]string{"method": "tools/list", "status": "success"}))
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_request_total",
		map[string]string{"method": "slow", "status": "timeout"}))
	assert.Equal(t, float64(2), metricValue(t, reg, "mcp_engine_request_duration_milliseconds", nil))
	assert.Equal(t, float64(0), metricValue(t, reg, "mcp_engine_pending_requests", nil))
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_error_total",
		map[string]string{"kind": "unmatched_response"}))
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_notification_total",
		map[string]string{"method": "notifications/message", "status": "success"}))
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_incoming_request_total",
		map[string]string{"method": "missing", "status": "method_not_found"}))

	// The handler goroutine records after it sends
	assert.Eventually(t, func() bool {
		return metricValue(t, reg, "mcp_engine_incoming_request_total",
			map[string]string{"method": "ping", "status": "success"}) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Close())
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_connection_state", map[string]string{"state": "closed"}))
	assert.Equal(t, float64(0), metricValue(t, reg, "mcp_engine_connection_state", map[string]string{"state": "connected"}))

	count, err := testutil.GatherAndCount(reg, "mcp_engine_request_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEngineRecordsProgressMetrics(t *testing.T) {
	metrics := newTestMetrics(t)
	e, ft := newConnected(t, WithMetrics(metrics))

	ch := requestAsync(context.Background(), e, "long", nil, WithProgress(func(protocol.ProgressParams) {}))
	ft.WaitForSent(t, 1, time.Second)

	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":1}}`)
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":42,"progress":1}}`)
	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	require.NoError(t, waitResult(t, ch).err)

	reg := metrics.Registry()
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_progress_total", map[string]string{"outcome": "routed"}))
	assert.Equal(t, float64(1), metricValue(t, reg, "mcp_engine_progress_total", map[string]string{"outcome": "dropped"}))
}

func newTestTracer(t *testing.T) (*observability.TracingProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := observability.NewTracingProvider(observability.TracingConfig{
		ServiceName: "engine-test",
		Exporter:    exporter,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func spanAttr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestEngineRecordsSpans(t *testing.T) {
	tracer, exporter := newTestTracer(t)
	e, ft := newConnected(t, WithTracer(tracer), WithCancelNotifications(false))

	ch := requestAsync(context.Background(), e, "resources/read", nil)
	ft.WaitForSent(t, 1, time.Second)
	ft.Deliver(`{"jsonrpc":"2.0","id":0,"error":{"code":-32002,"message":"not found"}}`)
	require.ErrorIs(t, waitResult(t, ch).err, mcperrors.ErrRemote)

	ft.Deliver(`{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	ft.WaitForSent(t, 2, time.Second)

	require.Eventually(t, func() bool {
		return len(exporter.GetSpans()) == 2
	}, time.Second, 5*time.Millisecond)

	byName := map[string]tracetest.SpanStub{}
	for _, span := range exporter.GetSpans() {
		byName[span.Name] = span
	}

	client, ok := byName["mcp.resources/read"]
	require.True(t, ok)
	assert.Equal(t, trace.SpanKindClient, client.SpanKind)
	outcome, ok := spanAttr(client, observability.AttrOutcome)
	require.True(t, ok)
	assert.Equal(t, "remote_error", outcome.AsString())
	id, ok := spanAttr(client, observability.AttrRequestID)
	require.True(t, ok)
	assert.Equal(t, "0", id.AsString())
	session, ok := spanAttr(client, observability.AttrSessionID)
	require.True(t, ok)
	assert.Equal(t, e.SessionID(), session.AsString())

	server, ok := byName["mcp.ping"]
	require.True(t, ok)
	assert.Equal(t, trace.SpanKindServer, server.SpanKind)
	outcome, ok = spanAttr(server, observability.AttrOutcome)
	require.True(t, ok)
	assert.Equal(t, "success", outcome.AsString())
}

func TestTracingSamplerSkipsMethods(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := observability.NewTracingProvider(observability.TracingConfig{
		Exporter:    exporter,
		NeverSample: []string{"ping"},
	})
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	e, ft := newConnected(t, WithTracer(tracer))
	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	ft.WaitForSent(t, 1, time.Second)

	require.NoError(t, e.Close())
	assert.Empty(t, exporter.GetSpans())
}
