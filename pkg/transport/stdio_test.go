package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
)

func TestNewStdioTransport(t *testing.T) {
	reader := strings.NewReader("")
	writer := &bytes.Buffer{}
	tr := NewStdioTransport(reader, writer)

	require.NotNil(t, tr)
	assert.Equal(t, reader, tr.reader)
	assert.NotNil(t, tr.rawWriter)
	assert.NotNil(t, tr.BaseTransport)
	assert.Equal(t, 4*1024*1024, tr.maxMessageSize)
}

func TestStdioTransport_SendWritesLine(t *testing.T) {
	out := &bytes.Buffer{}
	tr := NewStdioTransport(strings.NewReader(""), out)

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"a"}`)))
	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"b"}`)))

	assert.Equal(t, "{\"jsonrpc\":\"2.0\",\"method\":\"a\"}\n{\"jsonrpc\":\"2.0\",\"method\":\"b\"}\n", out.String())
}

func TestStdioTransport_ReceivesLinesInOrder(t *testing.T) {
	input := "{\"n\":1}\n\n{\"n\":2}\n{\"n\":3}\n"
	tr := NewStdioTransport(strings.NewReader(input), io.Discard)

	got := &collector{}
	tr.SetMessageHandler(got.handle)

	closed := make(chan struct{})
	tr.SetCloseHandler(func() { close(closed) })

	require.NoError(t, tr.Start(context.Background()))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("end of input did not close the transport")
	}
	require.NoError(t, tr.Wait())

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got.all())
}

func TestStdioTransport_RoundTripOverPipes(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	tr := NewStdioTransport(inR, outW)
	echoed := make(chan struct{})
	tr.SetMessageHandler(func(data []byte) {
		// Echo back to the peer
		_ = tr.Send(context.Background(), data)
	})

	require.NoError(t, tr.Start(context.Background()))

	go func() {
		defer close(echoed)
		line, err := bufio.NewReader(outR).ReadString('\n')
		assert.NoError(t, err)
		assert.Equal(t, "{\"ping\":true}\n", line)
	}()

	_, err := inW.Write([]byte("{\"ping\":true}\n"))
	require.NoError(t, err)

	select {
	case <-echoed:
	case <-time.After(time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Wait())
	_ = inW.Close()
	_ = outR.Close()
}

func TestStdioTransport_OversizeInputReported(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.Performance.MaxMessageSize = 32
	config.StdioReader = strings.NewReader(strings.Repeat("x", 100) + "\n")
	config.StdioWriter = io.Discard
	tr := newStdioTransport(config)

	var reported error
	tr.SetErrorHandler(func(err error) { reported = err })
	var closes atomic.Int32
	tr.SetCloseHandler(func() { closes.Add(1) })

	require.NoError(t, tr.Start(context.Background()))
	err := tr.Wait()

	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrTransport)
	assert.Equal(t, err, reported)
	assert.Equal(t, int32(1), closes.Load())
}

func TestStdioTransport_OversizeSendRejected(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.Performance.MaxMessageSize = 16
	out := &bytes.Buffer{}
	config.StdioReader = strings.NewReader("")
	config.StdioWriter = out
	tr := newStdioTransport(config)

	err := tr.Send(context.Background(), []byte(strings.Repeat("y", 17)))
	assert.ErrorIs(t, err, mcperrors.ErrTransport)
	assert.Zero(t, out.Len())
}

func TestStdioTransport_ReadErrorReported(t *testing.T) {
	boom := errors.New("disk gone")
	r, w := io.Pipe()
	tr := NewStdioTransport(r, io.Discard)

	reported := make(chan error, 1)
	tr.SetErrorHandler(func(err error) { reported <- err })

	require.NoError(t, tr.Start(context.Background()))
	_ = w.CloseWithError(boom)

	select {
	case err := <-reported:
		assert.ErrorIs(t, err, mcperrors.ErrTransport)
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("read error not reported")
	}
	assert.Error(t, tr.Wait())
}

func TestStdioTransport_HandlerPanicReported(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader("a\nb\n"), io.Discard)

	var delivered atomic.Int32
	tr.SetMessageHandler(func(data []byte) {
		delivered.Add(1)
		if string(data) == "a" {
			panic("bad handler")
		}
	})
	var errs atomic.Int32
	tr.SetErrorHandler(func(err error) { errs.Add(1) })

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Wait())

	assert.Equal(t, int32(2), delivered.Load(), "the read loop survives a panicking handler")
	assert.Equal(t, int32(1), errs.Load())
}

func TestStdioTransport_StartTwiceAndAfterClose(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	tr := NewStdioTransport(r, io.Discard)

	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), mcperrors.ErrTransport)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Start(context.Background()), mcperrors.ErrTransport)
	assert.ErrorIs(t, tr.Send(context.Background(), []byte("x")), mcperrors.ErrTransport)
	require.NoError(t, tr.Wait())
}

func TestStdioTransport_ContextCancellation(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	tr := NewStdioTransport(r, io.Discard)

	closed := make(chan struct{})
	tr.SetCloseHandler(func() { close(closed) })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(ctx))
	cancel()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not close the transport")
	}
	require.NoError(t, tr.Wait())
}

func TestStdioTransport_SendHonoursContext(t *testing.T) {
	out := &bytes.Buffer{}
	tr := NewStdioTransport(strings.NewReader(""), out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, []byte("x")), context.Canceled)
	assert.Zero(t, out.Len())
}
