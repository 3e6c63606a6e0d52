package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	Sum int `json:"sum"`
}

// newPair connects two engines over an in-memory transport pair
func newPair(t *testing.T, clientOpts, serverOpts []Option) (*Engine, *Engine) {
	t.Helper()

	a, b := transport.NewInMemoryPair()
	client := New(clientOpts...)
	server := New(serverOpts...)

	require.NoError(t, server.Connect(context.Background(), b))
	require.NoError(t, client.Connect(context.Background(), a))

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestTypedCallAndHandle(t *testing.T) {
	client, server := newPair(t, nil, nil)

	Handle(server, "math/add", func(ctx context.Context, p addParams) (addResult, error) {
		return addResult{Sum: p.A + p.B}, nil
	})

	res, err := Call[addResult](context.Background(), client, "math/add", addParams{A: 2, B: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sum)
}

func TestTypedHandleInvalidParams(t *testing.T) {
	client, server := newPair(t, nil, nil)

	Handle(server, "math/add", func(ctx context.Context, p addParams) (addResult, error) {
		return addResult{Sum: p.A + p.B}, nil
	})

	_, err := Call[addResult](context.Background(), client, "math/add", map[string]string{"a": "two"})
	require.Error(t, err)

	var remote *mcperrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, mcperrors.CodeInvalidParams, remote.Code)
}

func TestTypedCallDecodeFailure(t *testing.T) {
	client, server := newPair(t, nil, nil)

	server.SetRequestHandler("text", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return "not an object", nil
	})

	_, err := Call[addResult](context.Background(), client, "text", nil)
	require.Error(t, err)
	coded, ok := mcperrors.AsCodedError(err)
	require.True(t, ok)
	assert.Equal(t, mcperrors.CodeParseError, coded.Code())
}

func TestPingBothWays(t *testing.T) {
	client, server := newPair(t, nil, nil)

	_, err := client.Request(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
	_, err = server.Request(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
}

func TestTypedNotification(t *testing.T) {
	client, server := newPair(t, nil, nil)

	got := make(chan string, 1)
	HandleNotification(server, "notifications/message", func(ctx context.Context, p struct {
		Level string `json:"level"`
	}) error {
		got <- p.Level
		return nil
	})

	require.NoError(t, client.Notify(context.Background(), "notifications/message", map[string]string{"level": "warning"}))

	select {
	case level := <-got:
		assert.Equal(t, "warning", level)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestProgressOverPair(t *testing.T) {
	client, server := newPair(t, nil, nil)

	server.SetRequestHandler("tools/call", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		token, ok := protocol.ProgressTokenOf(req.Params)
		if !ok {
			return nil, errors.New("missing progress token")
		}
		for i := 1; i <= 3; i++ {
			total := 3.0
			if err := server.NotifyProgress(ctx, token, float64(i), &total, ""); err != nil {
				return nil, err
			}
		}
		return map[string]bool{"done": true}, nil
	})

	rec := &progressRecorder{}
	raw, err := client.Request(context.Background(), "tools/call", map[string]string{"name": "x"}, WithProgress(rec.record))
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(raw))

	// Delivery is ordered, so every update precedes the response
	updates := rec.all()
	require.Len(t, updates, 3)
	for i, update := range updates {
		assert.Equal(t, float64(i+1), update.Progress)
	}
}

func TestCancelAcrossPair(t *testing.T) {
	client, server := newPair(t, nil, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	server.SetRequestHandler("slow", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Request(ctx, "slow", nil)
		errCh <- err
	}()

	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, mcperrors.ErrCancelled)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("server handler was not cancelled")
	}
}

func TestCloseOnOneSideClosesTheOther(t *testing.T) {
	closed := make(chan struct{})
	client, server := newPair(t, nil, []Option{WithOnClose(func() { close(closed) })})

	pending := make(chan error, 1)
	server.SetRequestHandler("never", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	go func() {
		_, err := client.Request(context.Background(), "never", nil)
		pending <- err
	}()

	require.Eventually(t, func() bool { return client.PendingCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, client.Close())

	assert.ErrorIs(t, <-pending, mcperrors.ErrConnectionClosed)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("peer engine did not observe the close")
	}
	assert.Equal(t, StateClosed, server.State())
}
