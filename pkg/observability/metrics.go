package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string `env:"MCP_SERVICE_NAME,default=mcp-protocol"`
	ServiceVersion string `env:"MCP_SERVICE_VERSION,default=dev"`
	Environment    string `env:"MCP_ENVIRONMENT,default=development"`

	// Prometheus configuration
	MetricsPath string `env:"MCP_METRICS_PATH,default=/metrics"` // HTTP path for metrics endpoint
	MetricsPort int    `env:"MCP_METRICS_PORT,default=9090"`     // Port for metrics server

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem (default: engine)
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// Registerer receives the collectors; a private registry is used when nil
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig returns a configuration suitable for local use
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		ServiceName:    "mcp-protocol",
		ServiceVersion: "dev",
		Environment:    "development",
		MetricsPath:    "/metrics",
		MetricsPort:    9090,
	}
}

// MetricsProvider records protocol engine events
type MetricsProvider interface {
	// Outgoing traffic
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)
	RecordNotification(ctx context.Context, method, status string, duration time.Duration)

	// Incoming traffic
	RecordIncomingRequest(ctx context.Context, method, status string, duration time.Duration)
	RecordIncomingNotification(ctx context.Context, method, status string, duration time.Duration)
	RecordProgress(ctx context.Context, routed bool)

	// Correlation state
	RecordPending(ctx context.Context, delta int)
	RecordConnectionState(ctx context.Context, state string)

	// Transport events
	RecordTransportEvent(ctx context.Context, event, status string, duration time.Duration)

	// Errors reported out of band
	RecordError(ctx context.Context, kind, method string)

	// Management
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// connectionStates lists every value RecordConnectionState may set
var connectionStates = []string{"disconnected", "connected", "closed"}

// PrometheusMetricsProvider implements MetricsProvider using Prometheus
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server
	mu       sync.Mutex

	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec
	notificationTotal    *prometheus.CounterVec

	incomingRequestDuration      *prometheus.HistogramVec
	incomingRequestTotal         *prometheus.CounterVec
	incomingNotificationDuration *prometheus.HistogramVec
	incomingNotificationTotal    *prometheus.CounterVec
	progressTotal                *prometheus.CounterVec

	pendingRequests prometheus.Gauge
	connectionState *prometheus.GaugeVec

	transportEventDuration *prometheus.HistogramVec

	errorTotal *prometheus.CounterVec
}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Subsystem == "" {
		config.Subsystem = "engine"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	constLabels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		constLabels[k] = v
	}
	constLabels["service"] = config.ServiceName
	constLabels["version"] = config.ServiceVersion
	constLabels["environment"] = config.Environment
	config.ConstLabels = constLabels

	provider := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	provider.initializeMetrics()

	if err := provider.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return provider, nil
}

func (p *PrometheusMetricsProvider) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		labels,
	)
}

func (p *PrometheusMetricsProvider) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: p.config.ConstLabels,
		},
		labels,
	)
}

// initializeMetrics creates all metric collectors
func (p *PrometheusMetricsProvider) initializeMetrics() {
	p.requestDuration = p.histogram("request_duration_milliseconds",
		"Time from sending a request to its settlement in milliseconds", "method", "status")
	p.requestTotal = p.counter("request_total",
		"Total number of outgoing requests by settlement status", "method", "status")

	p.notificationDuration = p.histogram("notification_duration_milliseconds",
		"Duration of outgoing notification sends in milliseconds", "method", "status")
	p.notificationTotal = p.counter("notification_total",
		"Total number of outgoing notifications", "method", "status")

	p.incomingRequestDuration = p.histogram("incoming_request_duration_milliseconds",
		"Duration of inbound request handlers in milliseconds", "method", "status")
	p.incomingRequestTotal = p.counter("incoming_request_total",
		"Total number of inbound requests", "method", "status")

	p.incomingNotificationDuration = p.histogram("incoming_notification_duration_milliseconds",
		"Duration of inbound notification handlers in milliseconds", "method", "status")
	p.incomingNotificationTotal = p.counter("incoming_notification_total",
		"Total number of inbound notifications", "method", "status")

	p.progressTotal = p.counter("progress_total",
		"Total number of inbound progress updates", "outcome")

	p.pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "pending_requests",
			Help:        "Number of outgoing requests awaiting settlement",
			ConstLabels: p.config.ConstLabels,
		},
	)

	p.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "connection_state",
			Help:        "Current connection state (1 for the active state)",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"state"},
	)

	p.transportEventDuration = p.histogram("transport_event_duration_milliseconds",
		"Duration of transport events in milliseconds", "event", "status")

	p.errorTotal = p.counter("error_total",
		"Total number of errors by kind", "kind", "method")
}

// registerMetrics registers all metrics with the provider's registry and the
// configured Registerer, if any
func (p *PrometheusMetricsProvider) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.notificationDuration,
		p.notificationTotal,
		p.incomingRequestDuration,
		p.incomingRequestTotal,
		p.incomingNotificationDuration,
		p.incomingNotificationTotal,
		p.progressTotal,
		p.pendingRequests,
		p.connectionState,
		p.transportEventDuration,
		p.errorTotal,
	}

	for _, collector := range collectors {
		if err := p.registry.Register(collector); err != nil {
			return err
		}
		if p.config.Registerer != nil {
			if err := p.config.Registerer.Register(collector); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return err
				}
			}
		}
	}

	return nil
}

// Registry returns the registry holding this provider's collectors
func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler exposing this provider's metrics
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordRequest records the settlement of an outgoing request
func (p *PrometheusMetricsProvider) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.requestDuration.WithLabelValues(method, status).Observe(ms)
	p.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records an outgoing notification
func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.notificationDuration.WithLabelValues(method, status).Observe(ms)
	p.notificationTotal.WithLabelValues(method, status).Inc()
}

// RecordIncomingRequest records an inbound request
func (p *PrometheusMetricsProvider) RecordIncomingRequest(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.incomingRequestDuration.WithLabelValues(method, status).Observe(ms)
	p.incomingRequestTotal.WithLabelValues(method, status).Inc()
}

// RecordIncomingNotification records an inbound notification
func (p *PrometheusMetricsProvider) RecordIncomingNotification(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.incomingNotificationDuration.WithLabelValues(method, status).Observe(ms)
	p.incomingNotificationTotal.WithLabelValues(method, status).Inc()
}

// RecordProgress records an inbound progress update and whether it reached a sink
func (p *PrometheusMetricsProvider) RecordProgress(ctx context.Context, routed bool) {
	outcome := "dropped"
	if routed {
		outcome = "routed"
	}
	p.progressTotal.WithLabelValues(outcome).Inc()
}

// RecordPending records a change in the number of pending requests
func (p *PrometheusMetricsProvider) RecordPending(ctx context.Context, delta int) {
	p.pendingRequests.Add(float64(delta))
}

// RecordConnectionState records the current connection state
func (p *PrometheusMetricsProvider) RecordConnectionState(ctx context.Context, state string) {
	for _, s := range connectionStates {
		p.connectionState.WithLabelValues(s).Set(0)
	}
	p.connectionState.WithLabelValues(state).Set(1)
}

// RecordTransportEvent records a transport event
func (p *PrometheusMetricsProvider) RecordTransportEvent(ctx context.Context, event, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.transportEventDuration.WithLabelValues(event, status).Observe(ms)
}

// RecordError records an error by taxonomy kind
func (p *PrometheusMetricsProvider) RecordError(ctx context.Context, kind, method string) {
	p.errorTotal.WithLabelValues(kind, method).Inc()
}

// Start starts the metrics HTTP server. A MetricsPort of zero or less keeps
// the metrics in-process only.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	if p.config.MetricsPort <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())

	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := p.server
	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.server = nil
	p.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// NoopMetricsProvider discards every event
type NoopMetricsProvider struct{}

// NewNoopMetricsProvider returns a MetricsProvider that records nothing
func NewNoopMetricsProvider() MetricsProvider {
	return NoopMetricsProvider{}
}

func (NoopMetricsProvider) RecordRequest(context.Context, string, string, time.Duration)      {}
func (NoopMetricsProvider) RecordNotification(context.Context, string, string, time.Duration) {}
func (NoopMetricsProvider) RecordIncomingRequest(context.Context, string, string, time.Duration) {
}
func (NoopMetricsProvider) RecordIncomingNotification(context.Context, string, string, time.Duration) {
}
func (NoopMetricsProvider) RecordProgress(context.Context, bool)                                {}
func (NoopMetricsProvider) RecordPending(context.Context, int)                                  {}
func (NoopMetricsProvider) RecordConnectionState(context.Context, string)                       {}
func (NoopMetricsProvider) RecordTransportEvent(context.Context, string, string, time.Duration) {}
func (NoopMetricsProvider) RecordError(context.Context, string, string)                         {}
func (NoopMetricsProvider) Start(context.Context) error                                         { return nil }
func (NoopMetricsProvider) Shutdown(context.Context) error                                      { return nil }
