package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
)

// Transport is the abstract capability the engine drives.
//
// Implementations must deliver inbound messages to the message handler one at
// a time in arrival order, invoke the close handler at most once, and reject
// Send after Close.
type Transport interface {
	// Start begins delivering inbound messages. It returns once delivery is
	// running; ctx bounds the lifetime of the transport.
	Start(ctx context.Context) error

	// Send transmits one serialized envelope
	Send(ctx context.Context, data []byte) error

	// Close stops the transport and fires the close handler
	Close() error

	// Callback slots
	SetMessageHandler(handler MessageHandler)
	SetCloseHandler(handler CloseHandler)
	SetErrorHandler(handler ErrorHandler)
}

// MessageHandler processes one raw inbound envelope
type MessageHandler func(data []byte)

// CloseHandler is told that the transport has closed
type CloseHandler func()

// ErrorHandler handles transport errors that do not close the transport
type ErrorHandler func(err error)

// TransportType identifies the base transport implementation
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
)

// TransportConfig is the unified configuration for transports built by NewTransport
type TransportConfig struct {
	// Type of transport to create
	Type TransportType `json:"type"`

	// Testing support (for custom readers/writers in stdio)
	StdioReader io.Reader `json:"-"` // Custom reader for stdio
	StdioWriter io.Writer `json:"-"` // Custom writer for stdio

	// Feature configuration
	Features FeatureConfig `json:"features"`

	// Component configurations
	Reliability   ReliabilityConfig   `json:"reliability"`
	Observability ObservabilityConfig `json:"observability"`
	Performance   PerformanceConfig   `json:"performance"`
}

// FeatureConfig controls which middleware are enabled
type FeatureConfig struct {
	EnableReliability   bool `json:"enable_reliability" env:"MCP_TRANSPORT_RELIABILITY,default=false"`
	EnableObservability bool `json:"enable_observability" env:"MCP_TRANSPORT_OBSERVABILITY,default=true"`
}

// ReliabilityConfig for retry and resilience of Send
type ReliabilityConfig struct {
	MaxRetries         int                  `json:"max_retries" env:"MCP_TRANSPORT_MAX_RETRIES,default=3"`
	InitialRetryDelay  time.Duration        `json:"initial_retry_delay" env:"MCP_TRANSPORT_INITIAL_RETRY_DELAY,default=100ms"`
	MaxRetryDelay      time.Duration        `json:"max_retry_delay" env:"MCP_TRANSPORT_MAX_RETRY_DELAY,default=5s"`
	RetryBackoffFactor float64              `json:"retry_backoff_factor" env:"MCP_TRANSPORT_RETRY_BACKOFF_FACTOR,default=2"`
	CircuitBreaker     CircuitBreakerConfig `json:"circuit_breaker"`
}

// CircuitBreakerConfig for circuit breaker pattern
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"MCP_TRANSPORT_CIRCUIT_BREAKER,default=true"`
	FailureThreshold int           `json:"failure_threshold" env:"MCP_TRANSPORT_CIRCUIT_FAILURES,default=5"`
	SuccessThreshold int           `json:"success_threshold" env:"MCP_TRANSPORT_CIRCUIT_SUCCESSES,default=2"`
	Timeout          time.Duration `json:"timeout" env:"MCP_TRANSPORT_CIRCUIT_TIMEOUT,default=30s"`
}

// ObservabilityConfig for transport logging and counters
type ObservabilityConfig struct {
	EnableMetrics bool           `json:"enable_metrics" env:"MCP_TRANSPORT_METRICS,default=true"`
	EnableLogging bool           `json:"enable_logging" env:"MCP_TRANSPORT_LOGGING,default=true"`
	LogPayloads   bool           `json:"log_payloads" env:"MCP_TRANSPORT_LOG_PAYLOADS,default=false"`
	Logger        logging.Logger `json:"-"`
}

// PerformanceConfig for performance tuning
type PerformanceConfig struct {
	BufferSize     int `json:"buffer_size" env:"MCP_TRANSPORT_BUFFER_SIZE,default=65536"`
	MaxMessageSize int `json:"max_message_size" env:"MCP_TRANSPORT_MAX_MESSAGE_SIZE,default=4194304"`
}

// Errors
var (
	ErrUnsupportedTransportType = errors.New("unsupported transport type")
)

// NewTransport creates a new transport with the specified configuration and
// wraps it with the middleware the features enable
func NewTransport(config TransportConfig) (Transport, error) {
	var base Transport

	switch config.Type {
	case TransportTypeStdio:
		base = newStdioTransport(config)
	default:
		return nil, ErrUnsupportedTransportType
	}

	builder := NewMiddlewareBuilder(config)
	return ChainMiddleware(builder.Build()...).Wrap(base), nil
}

// BaseTransport holds the three callback slots every transport exposes and
// guarantees the close handler fires at most once. Transports embed it and
// report events through HandleMessage, HandleClose and HandleError.
type BaseTransport struct {
	mu             sync.RWMutex
	messageHandler MessageHandler
	closeHandler   CloseHandler
	errorHandler   ErrorHandler
	closeOnce      sync.Once
}

// NewBaseTransport creates a new BaseTransport
func NewBaseTransport() *BaseTransport {
	return &BaseTransport{}
}

// SetMessageHandler installs the inbound message callback
func (t *BaseTransport) SetMessageHandler(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// SetCloseHandler installs the close callback
func (t *BaseTransport) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler installs the error callback
func (t *BaseTransport) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// HandleMessage passes data to the message handler, if any
func (t *BaseTransport) HandleMessage(data []byte) {
	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(data)
	}
}

// HandleClose fires the close handler the first time it is called
func (t *BaseTransport) HandleClose() {
	t.closeOnce.Do(func() {
		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()

		if handler != nil {
			handler()
		}
	})
}

// HandleError passes err to the error handler, if any
func (t *BaseTransport) HandleError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
}

// ConfigFromEnv returns the defaults for transportType overridden by any
// MCP_TRANSPORT_* environment variables
func ConfigFromEnv(transportType TransportType) (TransportConfig, error) {
	config := DefaultTransportConfig(transportType)
	if err := envdecode.Decode(&config); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return DefaultTransportConfig(transportType), nil
		}
		return TransportConfig{}, err
	}
	return config, nil
}

// DefaultTransportConfig returns a transport configuration with sensible defaults
func DefaultTransportConfig(transportType TransportType) TransportConfig {
	return TransportConfig{
		Type: transportType,
		Features: FeatureConfig{
			EnableReliability:   false,
			EnableObservability: true,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:         3,
			InitialRetryDelay:  100 * time.Millisecond,
			MaxRetryDelay:      5 * time.Second,
			RetryBackoffFactor: 2.0,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
		},
		Performance: PerformanceConfig{
			BufferSize:     64 * 1024,
			MaxMessageSize: 4 * 1024 * 1024,
		},
	}
}
