package transport

import (
	"context"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
)

// InMemoryTransport is one end of a connected in-process pair. Messages sent on
// one end are delivered, in order, to the message handler of the other.
// Messages sent before the peer starts are buffered until it does.
type InMemoryTransport struct {
	*BaseTransport

	peer *InMemoryTransport

	mu      sync.Mutex
	queue   [][]byte
	started bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewInMemoryPair returns two connected transports
func NewInMemoryPair() (*InMemoryTransport, *InMemoryTransport) {
	a := newInMemoryTransport()
	b := newInMemoryTransport()
	a.peer = b
	b.peer = a
	return a, b
}

func newInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		BaseTransport: NewBaseTransport(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins delivering queued and future messages. Cancelling ctx closes
// the pair.
func (t *InMemoryTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return mcperrors.TransportClosed("memory")
	}
	if t.started {
		t.mu.Unlock()
		return mcperrors.TransportAlreadyRunning("memory")
	}
	t.started = true
	t.mu.Unlock()

	go t.deliverLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-t.done:
		}
	}()

	t.signal()
	return nil
}

func (t *InMemoryTransport) deliverLoop() {
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}

		for {
			t.mu.Lock()
			if t.closed || len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			data := t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.mu.Unlock()

			t.HandleMessage(data)
		}
	}
}

func (t *InMemoryTransport) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// enqueue appends data for delivery on t
func (t *InMemoryTransport) enqueue(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return mcperrors.TransportClosed("memory")
	}
	t.queue = append(t.queue, data)
	t.signal()
	return nil
}

// Send delivers a copy of data to the peer
func (t *InMemoryTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return mcperrors.TransportClosed("memory")
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return t.peer.enqueue(buf)
}

// Close closes both ends of the pair. Each end fires its close handler once.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.queue = nil
	t.mu.Unlock()

	close(t.done)
	_ = t.peer.Close()
	t.HandleClose()
	return nil
}

// IsClosed reports whether this end has been closed
func (t *InMemoryTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
