// Package transporttest provides a scriptable Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

// Transport records everything sent through it and lets the test inject
// inbound messages, errors and closure.
type Transport struct {
	*transport.BaseTransport

	// StartErr, when set, is returned by Start
	StartErr error

	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	started  bool
	closed   bool
	startCtx context.Context

	sentCh chan []byte
}

// New returns an unstarted fake transport
func New() *Transport {
	return &Transport{
		BaseTransport: transport.NewBaseTransport(),
		sentCh:        make(chan []byte, 1024),
	}
}

// Start marks the transport started
func (t *Transport) Start(ctx context.Context) error {
	if t.StartErr != nil {
		return t.StartErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcperrors.TransportClosed("fake")
	}
	t.started = true
	t.startCtx = ctx
	return nil
}

// Send records data, or fails with the error set by FailSends
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return mcperrors.TransportClosed("fake")
	}
	if t.sendErr != nil {
		return t.sendErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	t.sent = append(t.sent, buf)

	select {
	case t.sentCh <- buf:
	default:
	}
	return nil
}

// Close marks the transport closed and fires the close handler
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.HandleClose()
	return nil
}

// Deliver hands raw to the message handler as if it had arrived
func (t *Transport) Deliver(raw string) {
	t.HandleMessage([]byte(raw))
}

// DeliverJSON marshals v and delivers it
func (t *Transport) DeliverJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.HandleMessage(data)
	return nil
}

// SimulateClose closes the transport from the remote side
func (t *Transport) SimulateClose() {
	_ = t.Close()
}

// SimulateError reports err through the error handler
func (t *Transport) SimulateError(err error) {
	t.HandleError(err)
}

// FailSends makes every following Send return err. A nil err restores normal sending.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// Sent returns a copy of everything sent so far
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentMessages decodes everything sent so far
func (t *Transport) SentMessages() ([]*protocol.Message, error) {
	var out []*protocol.Message
	for _, data := range t.Sent() {
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, nil
}

// NextSent waits for the next sent message in order
func (t *Transport) NextSent(timeout time.Duration) (*protocol.Message, bool) {
	select {
	case data := <-t.sentCh:
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, false
		}
		return &msg, true
	case <-time.After(timeout):
		return nil, false
	}
}

// WaitForSent fails tb unless at least n messages are sent within timeout.
// It returns the decoded messages.
func (t *Transport) WaitForSent(tb testing.TB, n int, timeout time.Duration) []*protocol.Message {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		count := len(t.sent)
		t.mu.Unlock()

		if count >= n {
			break
		}
		if time.Now().After(deadline) {
			tb.Fatalf("expected %d sent messages, got %d after %v", n, count, timeout)
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := t.SentMessages()
	if err != nil {
		tb.Fatalf("decode sent messages: %v", err)
	}
	return msgs
}

// Started reports whether Start succeeded
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Closed reports whether Close has been called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// StartContext returns the context passed to Start
func (t *Transport) StartContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startCtx
}

var _ transport.Transport = (*Transport)(nil)
