// Package benchmarks provides performance and load testing for the protocol engine
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/engine"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/observability"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

// Operation names used in results
const (
	OpEcho     = "Echo"
	OpPing     = "Ping"
	OpProgress = "Progress"
	OpNotify   = "Notify"
)

// Methods served by the load test peer
const (
	methodEcho = "load/echo"
	methodWork = "load/work"
	methodTick = "load/tick"
)

// LoadTestConfig configures load testing parameters
type LoadTestConfig struct {
	// Number of connected engine pairs
	Pairs int

	// Number of operations per pair
	RequestsPerPair int

	// Request rate limit (requests per second, 0 = unlimited)
	RateLimit int

	// Test duration (0 = run until all requests complete)
	Duration time.Duration

	// Ramp up period for gradual load increase
	RampUpTime time.Duration

	// Mix of operations to perform
	OperationMix OperationMix

	// Simulated handler work on the serving side
	HandlerDelay time.Duration

	// Per-request timeout (0 = engine default)
	RequestTimeout time.Duration

	// Transport between the peers: TransportTypeStdio runs newline-delimited
	// JSON over pipes, anything else uses an in-memory pair
	TransportType transport.TransportType

	// Reporting interval
	ReportInterval time.Duration

	// Optional sinks; both engines of every pair report to them
	Logger  logging.Logger
	Metrics observability.MetricsProvider
}

// OperationMix defines the distribution of different operations
type OperationMix struct {
	Echo     float64 // Percentage of echo requests
	Ping     float64 // Percentage of ping requests
	Progress float64 // Percentage of requests reporting progress
	Notify   float64 // Percentage of notifications
}

// LoadTestResult contains the results of a load test
type LoadTestResult struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalDuration      time.Duration

	// Latency statistics (in milliseconds)
	MinLatency float64
	MaxLatency float64
	AvgLatency float64
	P50Latency float64
	P90Latency float64
	P95Latency float64
	P99Latency float64

	// Throughput
	RequestsPerSecond float64

	// Progress updates delivered to callers
	ProgressUpdates int64

	// Notifications seen by the serving side
	NotificationsReceived int64

	// Error breakdown
	ErrorCounts map[string]int64

	// Operation-specific metrics
	OperationMetrics map[string]*OperationMetrics
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count      int64
	Successful int64
	Failed     int64
	TotalTime  time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration

	mu        sync.Mutex
	latencies []time.Duration
}

// enginePair is one requesting engine connected to one serving engine
type enginePair struct {
	client *engine.Engine
	server *engine.Engine
}

func (p *enginePair) close() {
	_ = p.client.Close()
	_ = p.server.Close()
}

// LoadTester drives concurrent traffic through engine pairs
type LoadTester struct {
	config LoadTestConfig
	logger logging.Logger

	// Metrics
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	progressUpdates    int64
	notifications      int64
	errorCounts        sync.Map
	operationMetrics   sync.Map

	// Control
	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLoadTester creates a new load tester
func NewLoadTester(config LoadTestConfig) *LoadTester {
	// Set defaults
	if config.Pairs <= 0 {
		config.Pairs = 1
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}

	// Normalize operation mix
	mix := config.OperationMix
	total := mix.Echo + mix.Ping + mix.Progress + mix.Notify
	if total == 0 {
		// Default mix
		mix = OperationMix{Echo: 50, Ping: 20, Progress: 20, Notify: 10}
		total = 100
	}

	// Normalize to fractions
	mix.Echo /= total
	mix.Ping /= total
	mix.Progress /= total
	mix.Notify /= total
	config.OperationMix = mix

	return &LoadTester{
		config: config,
		logger: config.Logger.WithFields(logging.String("component", "loadtest")),
		stopCh: make(chan struct{}),
	}
}

// Run executes the load test
func (lt *LoadTester) Run(ctx context.Context) (*LoadTestResult, error) {
	lt.startTime = time.Now()
	defer lt.stop()

	// Start reporting goroutine
	go lt.reportProgress()

	// Connect pairs
	pairs := make([]*enginePair, 0, lt.config.Pairs)
	defer func() {
		for _, p := range pairs {
			p.close()
		}
	}()
	for i := 0; i < lt.config.Pairs; i++ {
		p, err := lt.createPair(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create pair %d: %w", i, err)
		}
		pairs = append(pairs, p)
	}

	// Start load generation
	rateLimiter := lt.createRateLimiter()

	for i, p := range pairs {
		lt.wg.Add(1)
		go lt.runPair(ctx, i, p, rateLimiter)

		// Ramp up delay
		if lt.config.RampUpTime > 0 && i < len(pairs)-1 {
			time.Sleep(lt.config.RampUpTime / time.Duration(len(pairs)-1))
		}
	}

	// Wait for completion or timeout
	done := make(chan struct{})
	go func() {
		lt.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if lt.config.Duration > 0 {
		timer := time.NewTimer(lt.config.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		lt.stop()
		<-done
	case <-ctx.Done():
		lt.stop()
		<-done
	}

	return lt.calculateResults(), nil
}

func (lt *LoadTester) stop() {
	lt.stopOnce.Do(func() { close(lt.stopCh) })
}

// runPair runs a single pair's workload
func (lt *LoadTester) runPair(ctx context.Context, id int, p *enginePair, rateLimiter <-chan struct{}) {
	defer lt.wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for seq := 0; lt.config.RequestsPerPair <= 0 || seq < lt.config.RequestsPerPair; seq++ {
		select {
		case <-lt.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Rate limiting
		if rateLimiter != nil {
			select {
			case <-rateLimiter:
			case <-lt.stopCh:
				return
			}
		}

		op := lt.selectOperation(rng.Float64())
		lt.executeOperation(ctx, p.client, op, seq)
	}
}

// selectOperation chooses an operation based on the configured mix
func (lt *LoadTester) selectOperation(r float64) string {
	mix := lt.config.OperationMix

	switch {
	case r < mix.Echo:
		return OpEcho
	case r < mix.Echo+mix.Ping:
		return OpPing
	case r < mix.Echo+mix.Ping+mix.Progress:
		return OpProgress
	default:
		return OpNotify
	}
}

// executeOperation performs a single operation and records metrics
func (lt *LoadTester) executeOperation(ctx context.Context, c *engine.Engine, operation string, seq int) {
	start := time.Now()
	var err error

	atomic.AddInt64(&lt.totalRequests, 1)

	var opts []engine.RequestOption
	if lt.config.RequestTimeout > 0 {
		opts = append(opts, engine.WithTimeout(lt.config.RequestTimeout))
	}

	switch operation {
	case OpEcho:
		in := echoPayload{Text: "load", Seq: seq}
		var out echoPayload
		out, err = engine.Call[echoPayload](ctx, c, methodEcho, in, opts...)
		if err == nil && out != in {
			err = fmt.Errorf("echo mismatch: sent %+v, got %+v", in, out)
		}

	case OpPing:
		_, err = c.Request(ctx, protocol.MethodPing, nil, opts...)

	case OpProgress:
		opts = append(opts, engine.WithProgress(func(protocol.ProgressParams) {
			atomic.AddInt64(&lt.progressUpdates, 1)
		}))
		_, err = c.Request(ctx, methodWork, workParams{Steps: 3}, opts...)

	case OpNotify:
		err = c.Notify(ctx, methodTick, map[string]int{"seq": seq})
	}

	duration := time.Since(start)

	// Update metrics
	metrics := lt.getOperationMetrics(operation)
	metrics.recordOperation(duration, err)

	if err != nil {
		atomic.AddInt64(&lt.failedRequests, 1)
		lt.recordError(err)
	} else {
		atomic.AddInt64(&lt.successfulRequests, 1)
	}
}

// getOperationMetrics returns metrics for a specific operation
func (lt *LoadTester) getOperationMetrics(operation string) *OperationMetrics {
	v, _ := lt.operationMetrics.LoadOrStore(operation, &OperationMetrics{})
	metrics, _ := v.(*OperationMetrics)
	return metrics
}

// recordOperation records a single operation's metrics
func (m *OperationMetrics) recordOperation(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Count++
	m.TotalTime += duration

	if err != nil {
		m.Failed++
	} else {
		m.Successful++
	}

	if m.MinTime == 0 || duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.latencies = append(m.latencies, duration)
}

// recordError records an error occurrence
func (lt *LoadTester) recordError(err error) {
	key := err.Error()
	v, _ := lt.errorCounts.LoadOrStore(key, new(int64))
	counter, _ := v.(*int64)
	atomic.AddInt64(counter, 1)
}

// createRateLimiter creates a rate limiter channel
func (lt *LoadTester) createRateLimiter() <-chan struct{} {
	if lt.config.RateLimit <= 0 {
		return nil
	}

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(lt.config.RateLimit))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				case <-lt.stopCh:
					return
				}
			case <-lt.stopCh:
				return
			}
		}
	}()

	return ch
}

// reportProgress periodically reports test progress
func (lt *LoadTester) reportProgress() {
	ticker := time.NewTicker(lt.config.ReportInterval)
	defer ticker.Stop()

	lastRequests := int64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			currentRequests := atomic.LoadInt64(&lt.totalRequests)
			currentTime := time.Now()

			elapsed := currentTime.Sub(lastTime).Seconds()
			rps := float64(currentRequests-lastRequests) / elapsed

			lt.logger.Info("Load test progress",
				logging.Int64("requests", currentRequests),
				logging.Any("requests_per_second", math.Round(rps*10)/10),
				logging.Int64("successful", atomic.LoadInt64(&lt.successfulRequests)),
				logging.Int64("failed", atomic.LoadInt64(&lt.failedRequests)))

			lastRequests = currentRequests
			lastTime = currentTime

		case <-lt.stopCh:
			return
		}
	}
}

// calculateResults computes the final test results
func (lt *LoadTester) calculateResults() *LoadTestResult {
	duration := time.Since(lt.startTime)

	result := &LoadTestResult{
		TotalRequests:         atomic.LoadInt64(&lt.totalRequests),
		SuccessfulRequests:    atomic.LoadInt64(&lt.successfulRequests),
		FailedRequests:        atomic.LoadInt64(&lt.failedRequests),
		ProgressUpdates:       atomic.LoadInt64(&lt.progressUpdates),
		NotificationsReceived: atomic.LoadInt64(&lt.notifications),
		TotalDuration:         duration,
		RequestsPerSecond:     float64(atomic.LoadInt64(&lt.totalRequests)) / duration.Seconds(),
		ErrorCounts:           make(map[string]int64),
		OperationMetrics:      make(map[string]*OperationMetrics),
	}

	// Collect error counts
	lt.errorCounts.Range(func(key, value interface{}) bool {
		errStr, _ := key.(string)
		counter, _ := value.(*int64)
		result.ErrorCounts[errStr] = atomic.LoadInt64(counter)
		return true
	})

	// Collect operation metrics and calculate overall latencies
	var allLatencies []time.Duration
	lt.operationMetrics.Range(func(key, value interface{}) bool {
		opName, _ := key.(string)
		metrics, _ := value.(*OperationMetrics)

		result.OperationMetrics[opName] = metrics
		metrics.mu.Lock()
		allLatencies = append(allLatencies, metrics.latencies...)
		metrics.mu.Unlock()

		return true
	})

	// Calculate latency statistics
	if len(allLatencies) > 0 {
		sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

		result.MinLatency = milliseconds(allLatencies[0])
		result.MaxLatency = milliseconds(allLatencies[len(allLatencies)-1])
		result.AvgLatency = milliseconds(avgDuration(allLatencies))
		result.P50Latency = milliseconds(percentileDuration(allLatencies, 50))
		result.P90Latency = milliseconds(percentileDuration(allLatencies, 90))
		result.P95Latency = milliseconds(percentileDuration(allLatencies, 95))
		result.P99Latency = milliseconds(percentileDuration(allLatencies, 99))
	}

	return result
}

// createPair connects a requesting engine to a serving engine
func (lt *LoadTester) createPair(ctx context.Context) (*enginePair, error) {
	clientSide, serverSide, err := lt.createTransports()
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(lt.config.Logger)}
	if lt.config.Metrics != nil {
		opts = append(opts, engine.WithMetrics(lt.config.Metrics))
	}

	server := engine.New(opts...)
	lt.registerHandlers(server)
	if err := server.Connect(ctx, serverSide); err != nil {
		return nil, err
	}

	client := engine.New(opts...)
	if err := client.Connect(ctx, clientSide); err != nil {
		_ = server.Close()
		return nil, err
	}

	return &enginePair{client: client, server: server}, nil
}

// createTransports returns the two ends of one connection
func (lt *LoadTester) createTransports() (transport.Transport, transport.Transport, error) {
	if lt.config.TransportType != transport.TransportTypeStdio {
		a, b := transport.NewInMemoryPair()
		return a, b, nil
	}

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	build := func(r *io.PipeReader, w *io.PipeWriter) (transport.Transport, error) {
		config := transport.DefaultTransportConfig(transport.TransportTypeStdio)
		config.StdioReader = r
		config.StdioWriter = w
		config.Features.EnableObservability = false
		return transport.NewTransport(config)
	}

	clientSide, err := build(clientIn, clientOut)
	if err != nil {
		return nil, nil, err
	}
	serverSide, err := build(serverIn, serverOut)
	if err != nil {
		return nil, nil, err
	}
	return &pipeTransport{Transport: clientSide, pipes: []io.Closer{clientIn, clientOut}},
		&pipeTransport{Transport: serverSide, pipes: []io.Closer{serverIn, serverOut}}, nil
}

// registerHandlers installs the serving side of the workload
func (lt *LoadTester) registerHandlers(server *engine.Engine) {
	delay := lt.config.HandlerDelay

	engine.Handle(server, methodEcho, logging.WrapHandler(lt.config.Logger, methodEcho,
		func(ctx context.Context, in echoPayload) (echoPayload, error) {
			if err := sleepContext(ctx, delay); err != nil {
				return echoPayload{}, err
			}
			return in, nil
		}))

	server.SetRequestHandler(methodWork, func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		var params workParams
		if err := engine.DecodeParams(req, &params); err != nil {
			return nil, err
		}
		token, hasToken := protocol.ProgressTokenOf(req.Params)
		total := float64(params.Steps)

		for step := 1; step <= params.Steps; step++ {
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
			if hasToken {
				if err := server.NotifyProgress(ctx, token, float64(step), &total, ""); err != nil {
					return nil, err
				}
			}
		}
		return map[string]bool{"done": true}, nil
	})

	server.SetNotificationHandler(methodTick, func(ctx context.Context, notif *protocol.Notification) error {
		atomic.AddInt64(&lt.notifications, 1)
		return nil
	})
}

type echoPayload struct {
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

type workParams struct {
	Steps int `json:"steps"`
}

// pipeTransport closes its pipes after the wrapped transport so the stdio
// read loop observes EOF
type pipeTransport struct {
	transport.Transport
	pipes []io.Closer
}

func (p *pipeTransport) Close() error {
	err := p.Transport.Close()
	for _, c := range p.pipes {
		_ = c.Close()
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Helper functions for statistics

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func avgDuration(durations []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentileDuration(sortedDurations []time.Duration, percentile float64) time.Duration {
	index := int(math.Ceil(float64(len(sortedDurations))*percentile/100.0)) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sortedDurations) {
		index = len(sortedDurations) - 1
	}
	return sortedDurations[index]
}

// PrintResults prints load test results in a readable format
func (r *LoadTestResult) PrintResults() {
	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Total Duration: %s\n", r.TotalDuration)
	fmt.Printf("Total Requests: %d\n", r.TotalRequests)
	if r.TotalRequests > 0 {
		fmt.Printf("Successful: %d (%.1f%%)\n", r.SuccessfulRequests,
			float64(r.SuccessfulRequests)/float64(r.TotalRequests)*100)
		fmt.Printf("Failed: %d (%.1f%%)\n", r.FailedRequests,
			float64(r.FailedRequests)/float64(r.TotalRequests)*100)
	}
	fmt.Printf("Requests/sec: %.2f\n", r.RequestsPerSecond)
	fmt.Printf("Progress updates: %d\n", r.ProgressUpdates)
	fmt.Printf("Notifications received: %d\n", r.NotificationsReceived)

	fmt.Println("\nLatency Statistics (ms):")
	fmt.Printf("  Min: %.2f\n", r.MinLatency)
	fmt.Printf("  Avg: %.2f\n", r.AvgLatency)
	fmt.Printf("  P50: %.2f\n", r.P50Latency)
	fmt.Printf("  P90: %.2f\n", r.P90Latency)
	fmt.Printf("  P95: %.2f\n", r.P95Latency)
	fmt.Printf("  P99: %.2f\n", r.P99Latency)
	fmt.Printf("  Max: %.2f\n", r.MaxLatency)

	if len(r.OperationMetrics) > 0 {
		fmt.Println("\nOperation Breakdown:")
		for op, metrics := range r.OperationMetrics {
			fmt.Printf("  %s:\n", op)
			fmt.Printf("    Count: %d\n", metrics.Count)
			fmt.Printf("    Success Rate: %.1f%%\n",
				float64(metrics.Successful)/float64(metrics.Count)*100)
			fmt.Printf("    Avg Time: %.2fms\n",
				milliseconds(metrics.TotalTime)/float64(metrics.Count))
		}
	}

	if len(r.ErrorCounts) > 0 {
		fmt.Println("\nError Summary:")
		for err, count := range r.ErrorCounts {
			fmt.Printf("  %s: %d\n", err, count)
		}
	}
}
