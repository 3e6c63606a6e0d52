package engine

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/observability"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// Config holds engine settings. Zero durations disable the corresponding
// deadline.
type Config struct {
	// ProtocolVersion is the envelope version tag sent and required on receipt
	ProtocolVersion string `env:"MCP_PROTOCOL_VERSION,default=2.0"`

	// RequestTimeout applies to requests that set no timeout of their own
	RequestTimeout time.Duration `env:"MCP_REQUEST_TIMEOUT,default=60s"`

	// SendCancelNotifications tells the peer when a request times out or is
	// cancelled locally
	SendCancelNotifications bool `env:"MCP_SEND_CANCEL_NOTIFICATIONS,default=true"`

	// EnablePing registers the built-in ping handler
	EnablePing bool `env:"MCP_ENABLE_PING,default=true"`

	// ProgressMethod and CancelledMethod name the built-in notifications
	ProgressMethod  string `env:"MCP_PROGRESS_METHOD,default=notifications/progress"`
	CancelledMethod string `env:"MCP_CANCELLED_METHOD,default=notifications/cancelled"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:         protocol.JSONRPCVersion,
		RequestTimeout:          60 * time.Second,
		SendCancelNotifications: true,
		EnablePing:              true,
		ProgressMethod:          protocol.MethodProgressNotification,
		CancelledMethod:         protocol.MethodCancelledNotification,
	}
}

// ConfigFromEnv loads Config from MCP_* environment variables. Unset
// variables keep their defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envdecode.Decode(&cfg); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig replaces the engine configuration
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics provider
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer sets the tracing provider
func WithTracer(tracer *observability.TracingProvider) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithOnClose registers the observer fired once when the engine closes
func WithOnClose(fn func()) Option {
	return func(e *Engine) {
		e.onClose = fn
	}
}

// WithOnError registers the observer for out-of-band errors
func WithOnError(fn func(error)) Option {
	return func(e *Engine) {
		e.onError = fn
	}
}

// WithRequestTimeout sets the default request timeout
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.config.RequestTimeout = d
	}
}

// WithCancelNotifications enables or disables outbound cancellation notices
func WithCancelNotifications(enabled bool) Option {
	return func(e *Engine) {
		e.config.SendCancelNotifications = enabled
	}
}

// WithProtocolVersion sets the envelope version tag
func WithProtocolVersion(version string) Option {
	return func(e *Engine) {
		e.config.ProtocolVersion = version
	}
}

// WithIDAllocator replaces the id allocator
func WithIDAllocator(ids *IDAllocator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// requestOptions are the per-call settings of Request
type requestOptions struct {
	timeout         time.Duration
	progress        ProgressFunc
	resetOnProgress bool
	maxTotalTimeout time.Duration
}

// RequestOption configures a single Request
type RequestOption func(*requestOptions)

// WithTimeout overrides the default timeout for one request. Zero disables it.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithProgress attaches a progress sink. The request id is sent as the
// progress token in params._meta, so params must be a JSON object or nil.
func WithProgress(fn ProgressFunc) RequestOption {
	return func(o *requestOptions) {
		o.progress = fn
	}
}

// WithResetTimeoutOnProgress restarts the request deadline whenever progress
// arrives, never past maxTotal after sending. Zero maxTotal is unbounded.
func WithResetTimeoutOnProgress(maxTotal time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.resetOnProgress = true
		o.maxTotalTimeout = maxTotal
	}
}
