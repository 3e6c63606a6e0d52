package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
)

// ReliabilityMiddleware adds retry with exponential backoff and circuit
// breaking to Send. Only errors that mcperrors.IsRetryableError accepts are
// retried.
type ReliabilityMiddleware struct {
	config         ReliabilityConfig
	circuitBreaker *reliabilityCircuitBreaker
	logger         logging.Logger
}

// NewReliabilityMiddleware creates a new reliability middleware
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) *ReliabilityMiddleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	rm := &ReliabilityMiddleware{
		config: config,
		logger: logger.WithFields(logging.String("component", "transport.reliability")),
	}

	if config.CircuitBreaker.Enabled {
		rm.circuitBreaker = newReliabilityCircuitBreaker(config.CircuitBreaker)
	}

	return rm
}

// Wrap implements the Middleware interface
func (rm *ReliabilityMiddleware) Wrap(transport Transport) Transport {
	return &reliabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          rm,
	}
}

// newBackOff builds the retry schedule for one Send
func (rm *ReliabilityMiddleware) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if rm.config.InitialRetryDelay > 0 {
		exp.InitialInterval = rm.config.InitialRetryDelay
	}
	if rm.config.MaxRetryDelay > 0 {
		exp.MaxInterval = rm.config.MaxRetryDelay
	}
	if rm.config.RetryBackoffFactor > 0 {
		exp.Multiplier = rm.config.RetryBackoffFactor
	}
	// Attempts are bounded by MaxRetries, not elapsed time
	exp.MaxElapsedTime = 0

	retries := rm.config.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// reliabilityTransport wraps a transport with reliability features
type reliabilityTransport struct {
	middlewareTransport
	middleware *ReliabilityMiddleware
}

// Send wraps the underlying Send with retry logic
func (rt *reliabilityTransport) Send(ctx context.Context, data []byte) error {
	rm := rt.middleware
	cb := rm.circuitBreaker

	attempt := 0
	operation := func() error {
		attempt++

		if cb != nil {
			if ok, retryIn := cb.canMakeCall(); !ok {
				return backoff.Permanent(mcperrors.CircuitOpen("transport", retryIn))
			}
		}

		err := rt.middlewareTransport.Send(ctx, data)
		if err == nil {
			if cb != nil {
				cb.recordSuccess()
			}
			return nil
		}

		if !mcperrors.IsRetryableError(err) {
			return backoff.Permanent(err)
		}

		if cb != nil {
			cb.recordFailure()
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		rm.logger.WithError(err).Warn("Send failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", wait))
	}

	err := backoff.RetryNotify(operation, rm.newBackOff(ctx), notify)
	if err != nil && attempt > 1 {
		rm.logger.WithError(err).Error("Send failed after retries", logging.Int("attempts", attempt))
	}
	return err
}

// CircuitState returns the circuit breaker state: "closed", "open" or
// "half-open". It reports "disabled" when no breaker is configured.
func (rm *ReliabilityMiddleware) CircuitState() string {
	if rm.circuitBreaker == nil {
		return "disabled"
	}
	return rm.circuitBreaker.currentState().String()
}

// Circuit breaker states
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// reliabilityCircuitBreaker implements circuit breaker pattern
type reliabilityCircuitBreaker struct {
	config    CircuitBreakerConfig
	state     circuitState
	failures  int
	successes int
	lastError time.Time
	mu        sync.Mutex
}

func newReliabilityCircuitBreaker(config CircuitBreakerConfig) *reliabilityCircuitBreaker {
	return &reliabilityCircuitBreaker{
		config: config,
		state:  circuitClosed,
	}
}

// canMakeCall reports whether a call may proceed, and if not how long until
// the breaker lets a probe through
func (cb *reliabilityCircuitBreaker) canMakeCall() (bool, time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		// Check if we should transition to half-open
		elapsed := time.Since(cb.lastError)
		if elapsed > cb.config.Timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true, 0
		}
		return false, cb.config.Timeout - elapsed
	default:
		return true, 0
	}
}

func (cb *reliabilityCircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == circuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = circuitClosed
		}
	}
}

func (cb *reliabilityCircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = time.Now()
	cb.failures++

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		return
	}

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = circuitOpen
	}
}

func (cb *reliabilityCircuitBreaker) currentState() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
