package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
)

// ObservabilityMiddleware adds structured logging and in-process counters to
// a transport
type ObservabilityMiddleware struct {
	config  ObservabilityConfig
	metrics *transportMetrics
	logger  logging.Logger
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(config ObservabilityConfig) *ObservabilityMiddleware {
	logger := config.Logger
	if logger == nil || !config.EnableLogging {
		logger = logging.NewNopLogger()
	}

	return &ObservabilityMiddleware{
		config:  config,
		metrics: newTransportMetrics(),
		logger:  logger.WithFields(logging.String("component", "transport")),
	}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          om,
	}
}

// Metrics returns the current metrics snapshot, or nil when metrics are disabled
func (om *ObservabilityMiddleware) Metrics() *TransportMetricsSnapshot {
	if !om.config.EnableMetrics {
		return nil
	}
	return om.metrics.snapshot()
}

// observabilityTransport wraps a transport with observability features
type observabilityTransport struct {
	middlewareTransport
	middleware *ObservabilityMiddleware
}

// Send wraps the underlying Send with observability
func (ot *observabilityTransport) Send(ctx context.Context, data []byte) error {
	start := time.Now()
	err := ot.middlewareTransport.Send(ctx, data)
	duration := time.Since(start)

	om := ot.middleware
	if om.config.EnableMetrics {
		om.metrics.sends.record(len(data), duration, err)
	}

	if err != nil {
		om.logger.WithError(err).Warn("Send failed",
			logging.Int("bytes", len(data)),
			logging.Duration("duration", duration))
	} else {
		fields := []logging.Field{
			logging.Int("bytes", len(data)),
			logging.Duration("duration", duration),
		}
		if om.config.LogPayloads {
			fields = append(fields, logging.String("payload", string(data)))
		}
		om.logger.Debug("Message sent", fields...)
	}

	return err
}

// SetMessageHandler observes every inbound message before passing it on
func (ot *observabilityTransport) SetMessageHandler(handler MessageHandler) {
	if handler == nil {
		ot.middlewareTransport.SetMessageHandler(nil)
		return
	}

	om := ot.middleware
	ot.middlewareTransport.SetMessageHandler(func(data []byte) {
		if om.config.EnableMetrics {
			om.metrics.receives.record(len(data), 0, nil)
		}
		if om.config.LogPayloads {
			om.logger.Debug("Message received",
				logging.Int("bytes", len(data)),
				logging.String("payload", string(data)))
		} else {
			om.logger.Debug("Message received", logging.Int("bytes", len(data)))
		}
		handler(data)
	})
}

// SetErrorHandler counts transport errors before passing them on
func (ot *observabilityTransport) SetErrorHandler(handler ErrorHandler) {
	om := ot.middleware
	ot.middlewareTransport.SetErrorHandler(func(err error) {
		if om.config.EnableMetrics {
			om.metrics.transportErrors.Add(1)
		}
		om.logger.WithError(err).Error("Transport error")
		if handler != nil {
			handler(err)
		}
	})
}

// SetCloseHandler records the closed state before passing it on
func (ot *observabilityTransport) SetCloseHandler(handler CloseHandler) {
	om := ot.middleware
	ot.middlewareTransport.SetCloseHandler(func() {
		om.metrics.setState("closed")
		om.logger.Info("Transport closed")
		if handler != nil {
			handler()
		}
	})
}

// Start wraps the underlying Start with observability
func (ot *observabilityTransport) Start(ctx context.Context) error {
	om := ot.middleware
	om.logger.Debug("Starting transport")

	err := ot.middlewareTransport.Start(ctx)
	if err != nil {
		om.logger.WithError(err).Error("Transport start failed")
		return err
	}

	om.metrics.setState("running")
	om.logger.Info("Transport started")
	return nil
}

// Close wraps the underlying Close with observability
func (ot *observabilityTransport) Close() error {
	om := ot.middleware
	om.logger.Debug("Closing transport")

	err := ot.middlewareTransport.Close()
	if err != nil {
		om.logger.WithError(err).Warn("Transport close failed")
	}
	om.metrics.setState("closed")
	return err
}

// transportMetrics holds counters for one wrapped transport
type transportMetrics struct {
	sends           operationMetrics
	receives        operationMetrics
	transportErrors atomic.Int64

	mu    sync.RWMutex
	state string
}

func newTransportMetrics() *transportMetrics {
	return &transportMetrics{state: "stopped"}
}

func (tm *transportMetrics) setState(state string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.state = state
}

// operationMetrics counts messages and bytes for one direction
type operationMetrics struct {
	total    atomic.Int64
	errors   atomic.Int64
	bytes    atomic.Int64
	duration durationTracker
}

func (om *operationMetrics) record(size int, duration time.Duration, err error) {
	om.total.Add(1)
	if err != nil {
		om.errors.Add(1)
		return
	}
	om.bytes.Add(int64(size))
	if duration > 0 {
		om.duration.observe(duration)
	}
}

func (om *operationMetrics) snapshot() OperationMetrics {
	count, total, min, max, avg := om.duration.stats()
	return OperationMetrics{
		Total:  om.total.Load(),
		Errors: om.errors.Load(),
		Bytes:  om.bytes.Load(),
		Duration: DurationMetrics{
			Count: count,
			Total: total,
			Min:   min,
			Max:   max,
			Avg:   avg,
		},
	}
}

// durationTracker tracks duration statistics
type durationTracker struct {
	count   atomic.Int64
	totalNs atomic.Int64
	minNs   atomic.Int64
	maxNs   atomic.Int64
	mu      sync.Mutex
}

func (dt *durationTracker) observe(duration time.Duration) {
	nanos := duration.Nanoseconds()

	dt.count.Add(1)
	dt.totalNs.Add(nanos)

	// Update min/max with proper synchronization
	dt.mu.Lock()
	if current := dt.minNs.Load(); current == 0 || nanos < current {
		dt.minNs.Store(nanos)
	}
	if current := dt.maxNs.Load(); nanos > current {
		dt.maxNs.Store(nanos)
	}
	dt.mu.Unlock()
}

func (dt *durationTracker) stats() (count int64, total, min, max, avg time.Duration) {
	c := dt.count.Load()
	if c == 0 {
		return 0, 0, 0, 0, 0
	}

	totalNs := dt.totalNs.Load()
	return c, time.Duration(totalNs), time.Duration(dt.minNs.Load()), time.Duration(dt.maxNs.Load()), time.Duration(totalNs / c)
}

// TransportMetricsSnapshot represents a point-in-time view of transport metrics
type TransportMetricsSnapshot struct {
	TransportState string           `json:"transport_state"`
	Sends          OperationMetrics `json:"sends"`
	Receives       OperationMetrics `json:"receives"`
	Errors         int64            `json:"errors"`
}

// OperationMetrics represents metrics for one direction of traffic
type OperationMetrics struct {
	Total    int64           `json:"total"`
	Errors   int64           `json:"errors"`
	Bytes    int64           `json:"bytes"`
	Duration DurationMetrics `json:"duration"`
}

// DurationMetrics represents duration statistics
type DurationMetrics struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// snapshot creates a snapshot of current metrics
func (tm *transportMetrics) snapshot() *TransportMetricsSnapshot {
	tm.mu.RLock()
	state := tm.state
	tm.mu.RUnlock()

	return &TransportMetricsSnapshot{
		TransportState: state,
		Sends:          tm.sends.snapshot(),
		Receives:       tm.receives.snapshot(),
		Errors:         tm.transportErrors.Load(),
	}
}
