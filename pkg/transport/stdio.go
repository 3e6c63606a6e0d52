package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
)

// StdioTransport implements Transport over a pair of byte streams, one
// newline-delimited envelope per line. It is normally wired to the process's
// standard input and output.
type StdioTransport struct {
	*BaseTransport
	reader         io.Reader
	rawWriter      *bufio.Writer
	bufferSize     int
	maxMessageSize int

	mutex   sync.Mutex // Protects rawWriter, started and closed
	started bool
	closed  bool

	done      chan struct{}
	group     *errgroup.Group
	waitMutex sync.Mutex
}

// NewStdioTransport creates a transport reading from r and writing to w.
// Nil streams default to os.Stdin and os.Stdout.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.StdioReader = r
	config.StdioWriter = w
	return newStdioTransport(config)
}

// newStdioTransport creates a new Stdio transport from config
func newStdioTransport(config TransportConfig) *StdioTransport {
	// Use custom readers/writers if provided (for testing), otherwise use os.Stdin/Stdout
	reader := config.StdioReader
	writer := config.StdioWriter

	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	maxSize := config.Performance.MaxMessageSize
	if maxSize <= 0 {
		maxSize = 4 * 1024 * 1024
	}

	bufferSize := config.Performance.BufferSize
	if bufferSize <= 0 || bufferSize > maxSize {
		bufferSize = min(64*1024, maxSize)
	}

	return &StdioTransport{
		BaseTransport:  NewBaseTransport(),
		reader:         reader,
		rawWriter:      bufio.NewWriterSize(writer, bufferSize),
		bufferSize:     bufferSize,
		maxMessageSize: maxSize,
		done:           make(chan struct{}),
	}
}

// Start begins reading lines from the reader in the background. Each line is
// delivered to the message handler in order. End of input or a read error
// closes the transport.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return mcperrors.TransportClosed("stdio")
	}
	if t.started {
		t.mutex.Unlock()
		return mcperrors.TransportAlreadyRunning("stdio")
	}
	t.started = true
	t.mutex.Unlock()

	// Create errgroup for coordinated goroutine management
	g, gctx := errgroup.WithContext(ctx)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, t.bufferSize), t.maxMessageSize)

	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		for scanner.Scan() {
			select {
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			// Copy the line to avoid it being overwritten by the next Scan
			data := make([]byte, len(line))
			copy(data, line)

			t.deliver(data)
		}

		err := scanner.Err()
		select {
		case <-t.done:
			return nil
		default:
		}

		if err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = mcperrors.MessageTooLarge("stdio", t.maxMessageSize+1, t.maxMessageSize)
			} else {
				err = mcperrors.StdioTransportError("read_input", err)
			}
			t.HandleError(err)
		}

		// End of input: the peer is gone
		_ = t.Close()
		return err
	})

	// Close the reader to unblock scanner.Scan() on shutdown
	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = t.Close()
		case <-t.done:
		case <-scannerDone:
			return nil
		}
		if closer, ok := t.reader.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil
	})

	t.waitMutex.Lock()
	t.group = g
	t.waitMutex.Unlock()

	return nil
}

// deliver passes one line to the message handler, turning a panic into an
// error report so the read loop survives
func (t *StdioTransport) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.HandleError(mcperrors.StdioTransportError("process_message",
				fmt.Errorf("panic in message handler: %v\n%s", r, debug.Stack())))
		}
	}()
	t.HandleMessage(data)
}

// Wait blocks until the read loop has exited and returns its error, if any
func (t *StdioTransport) Wait() error {
	t.waitMutex.Lock()
	g := t.group
	t.waitMutex.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

// Send writes data followed by a newline and flushes it
func (t *StdioTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > t.maxMessageSize {
		return mcperrors.MessageTooLarge("stdio", len(data), t.maxMessageSize)
	}

	// Acquire a lock to prevent concurrent writes
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return mcperrors.TransportClosed("stdio")
	}

	if _, err := t.rawWriter.Write(data); err != nil {
		return mcperrors.StdioTransportError("write_data", err)
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return mcperrors.StdioTransportError("write_newline", err)
	}
	if err := t.rawWriter.Flush(); err != nil {
		return mcperrors.StdioTransportError("flush_output", err)
	}

	return nil
}

// Close stops the read loop, flushes pending output and fires the close
// handler. It is safe to call more than once.
func (t *StdioTransport) Close() error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil
	}
	t.closed = true
	flushErr := t.rawWriter.Flush()
	t.mutex.Unlock()

	close(t.done)

	if closer, ok := t.reader.(io.Closer); ok && t.reader != os.Stdin {
		_ = closer.Close()
	}

	// The close handler may call Close again; the closed flag makes that a no-op
	t.HandleClose()

	if flushErr != nil {
		return mcperrors.StdioTransportError("flush_on_close", flushErr)
	}
	return nil
}
