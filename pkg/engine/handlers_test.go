package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

func TestHandlerRegistryLookup(t *testing.T) {
	r := newHandlerRegistry()
	assert.Nil(t, r.requestHandler("a"))
	assert.Nil(t, r.notificationHandler("a"))

	specific := func(ctx context.Context, req *protocol.Request) (interface{}, error) { return "specific", nil }
	fallback := func(ctx context.Context, req *protocol.Request) (interface{}, error) { return "fallback", nil }

	r.setFallbackRequestHandler(fallback)
	r.setRequestHandler("a", specific)

	got, _ := r.requestHandler("a")(context.Background(), nil)
	assert.Equal(t, "specific", got)
	got, _ = r.requestHandler("b")(context.Background(), nil)
	assert.Equal(t, "fallback", got)

	r.removeRequestHandler("a")
	got, _ = r.requestHandler("a")(context.Background(), nil)
	assert.Equal(t, "fallback", got)

	r.setFallbackRequestHandler(nil)
	assert.Nil(t, r.requestHandler("a"))

	r.setNotificationHandler("n", func(ctx context.Context, notif *protocol.Notification) error { return nil })
	assert.NotNil(t, r.notificationHandler("n"))
	r.setNotificationHandler("n", nil)
	assert.Nil(t, r.notificationHandler("n"))
}

func TestBuiltinPing(t *testing.T) {
	_, ft := newConnected(t)

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	sent := ft.WaitForSent(t, 1, time.Second)
	assert.Nil(t, sent[0].Error)
	assert.JSONEq(t, `{}`, string(sent[0].Result))
}

func TestBuiltinPingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnablePing = false
	_, ft := newConnected(t, WithConfig(cfg))

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	sent := ft.WaitForSent(t, 1, time.Second)
	require.NotNil(t, sent[0].Error)
	assert.Equal(t, protocol.MethodNotFound, sent[0].Error.Code)
}

func TestHandlerReplacementAndRemoval(t *testing.T) {
	e, ft := newConnected(t)

	e.SetRequestHandler("greet", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return "first", nil
	})
	e.SetRequestHandler("greet", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return "second", nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"greet"}`)
	sent := ft.WaitForSent(t, 1, time.Second)
	assert.JSONEq(t, `"second"`, string(sent[0].Result))

	e.RemoveRequestHandler("greet")
	ft.Deliver(`{"jsonrpc":"2.0","id":2,"method":"greet"}`)
	sent = ft.WaitForSent(t, 2, time.Second)
	require.NotNil(t, sent[1].Error)
	assert.Equal(t, protocol.MethodNotFound, sent[1].Error.Code)
}

func TestFallbackRequestHandler(t *testing.T) {
	e, ft := newConnected(t)

	e.SetFallbackRequestHandler(func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return map[string]string{"handled": req.Method}, nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"anything/goes"}`)
	sent := ft.WaitForSent(t, 1, time.Second)
	assert.JSONEq(t, `{"handled":"anything/goes"}`, string(sent[0].Result))

	// A specific handler wins over the fallback
	ft.Deliver(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	sent = ft.WaitForSent(t, 2, time.Second)
	assert.JSONEq(t, `{}`, string(sent[1].Result))
}

func TestHandlerErrorBecomesErrorResponse(t *testing.T) {
	e, ft := newConnected(t)

	e.SetRequestHandler("plain", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return nil, errors.New("disk on fire")
	})
	e.SetRequestHandler("coded", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return nil, mcperrors.NewError(mcperrors.CodeInvalidParams, "bad input",
			mcperrors.CategoryValidation, mcperrors.SeverityError)
	})
	e.SetRequestHandler("remote", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return nil, &mcperrors.RemoteError{Code: 1234, Message: "custom"}
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"plain"}`)
	sent := ft.WaitForSent(t, 1, time.Second)
	require.NotNil(t, sent[0].Error)
	assert.Equal(t, protocol.InternalError, sent[0].Error.Code)
	assert.Empty(t, sent[0].Result)

	ft.Deliver(`{"jsonrpc":"2.0","id":2,"method":"coded"}`)
	sent = ft.WaitForSent(t, 2, time.Second)
	require.NotNil(t, sent[1].Error)
	assert.Equal(t, protocol.InvalidParams, sent[1].Error.Code)
	assert.Equal(t, "bad input", sent[1].Error.Message)

	ft.Deliver(`{"jsonrpc":"2.0","id":3,"method":"remote"}`)
	sent = ft.WaitForSent(t, 3, time.Second)
	require.NotNil(t, sent[2].Error)
	assert.Equal(t, protocol.ErrorCode(1234), sent[2].Error.Code)
	assert.Equal(t, "custom", sent[2].Error.Message)
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	e, ft := newConnected(t)

	e.SetRequestHandler("explode", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		panic("kaboom")
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"explode"}`)
	sent := ft.WaitForSent(t, 1, time.Second)
	require.NotNil(t, sent[0].Error)
	assert.Equal(t, protocol.InternalError, sent[0].Error.Code)

	// The engine keeps serving
	ft.Deliver(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	sent = ft.WaitForSent(t, 2, time.Second)
	assert.Nil(t, sent[1].Error)
}

func TestUnencodableResultBecomesError(t *testing.T) {
	e, ft := newConnected(t)

	e.SetRequestHandler("chan", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return make(chan int), nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"chan"}`)
	sent := ft.WaitForSent(t, 1, time.Second)
	require.NotNil(t, sent[0].Error)
	assert.Equal(t, protocol.InternalError, sent[0].Error.Code)
}

func TestHandlerSeesRequestContext(t *testing.T) {
	e, ft := newConnected(t)

	ids := make(chan string, 1)
	e.SetRequestHandler("whoami", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		ids <- logging.RequestIDFromContext(ctx)
		return nil, nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":"req-9","method":"whoami"}`)
	ft.WaitForSent(t, 1, time.Second)
	assert.Equal(t, "req-9", <-ids)
}

func TestHandlerContextCancelledOnClose(t *testing.T) {
	e, ft := newConnected(t)

	started := make(chan struct{})
	stopped := make(chan error, 1)
	e.SetRequestHandler("block", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return nil, ctx.Err()
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"block"}`)
	<-started
	require.NoError(t, e.Close())

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}

	// No response is written after close
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ft.Sent())
}

func TestInboundCancellationSuppressesResponse(t *testing.T) {
	e, ft := newConnected(t)

	started := make(chan struct{})
	finished := make(chan struct{})
	e.SetRequestHandler("long", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		close(started)
		defer close(finished)
		<-ctx.Done()
		return "too late", nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":4,"method":"long"}`)
	<-started
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":4,"reason":"user"}}`)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ft.Sent())
}

func TestCancellationAlsoReachesUserHandler(t *testing.T) {
	e, ft := newConnected(t)

	got := make(chan protocol.CancelledParams, 1)
	HandleNotification(e, protocol.MethodCancelledNotification, func(ctx context.Context, params protocol.CancelledParams) error {
		got <- params
		return nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"gone","reason":"bye"}}`)

	select {
	case params := <-got:
		assert.Equal(t, "gone", params.RequestID.String())
		assert.Equal(t, "bye", params.Reason)
	case <-time.After(time.Second):
		t.Fatal("cancellation handler not called")
	}
}

func TestDuplicateInflightRequestRejected(t *testing.T) {
	e, ft := newConnected(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e.SetRequestHandler("hold", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		started <- struct{}{}
		<-release
		return "ok", nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"hold"}`)
	<-started
	ft.Deliver(`{"jsonrpc":"2.0","id":1,"method":"hold"}`)

	sent := ft.WaitForSent(t, 1, time.Second)
	require.NotNil(t, sent[0].Error)
	assert.Equal(t, mcperrors.CodeDuplicateRequestID, int(sent[0].Error.Code))

	close(release)
	sent = ft.WaitForSent(t, 2, time.Second)
	assert.JSONEq(t, `"ok"`, string(sent[1].Result))
}

func TestStringAndNumericIDsAreDistinctInflight(t *testing.T) {
	e, ft := newConnected(t)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	e.SetRequestHandler("hold", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		started <- struct{}{}
		<-release
		return req.ID.Value(), nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":5,"method":"hold"}`)
	<-started
	ft.Deliver(`{"jsonrpc":"2.0","id":"5","method":"hold"}`)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("string id rejected while numeric id with the same text was in flight")
	}
	assert.Empty(t, ft.Sent())

	close(release)
	sent := ft.WaitForSent(t, 2, time.Second)
	for _, msg := range sent {
		assert.Nil(t, msg.Error)
	}
}

func TestCancelNoticeMatchesIDKind(t *testing.T) {
	e, ft := newConnected(t)

	cancelled := make(chan struct{})
	started := make(chan struct{})
	e.SetRequestHandler("long", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":8,"method":"long"}`)
	<-started

	// A string id naming the same text does not cancel the numeric request
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"8"}}`)
	select {
	case <-cancelled:
		t.Fatal("string id cancelled a numeric request")
	case <-time.After(30 * time.Millisecond):
	}

	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":8}}`)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler not cancelled")
	}
}

func TestNotificationHandlersRunInOrder(t *testing.T) {
	e, ft := newConnected(t)

	var mu sync.Mutex
	var seen []int
	HandleNotification(e, "tick", func(ctx context.Context, params struct{ N int }) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, params.N)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, ft.DeliverJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "tick",
			"params":  map[string]int{"N": i},
		}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
	assert.Empty(t, ft.Sent(), "notifications are never answered")
}

func TestNotificationHandlerErrorReported(t *testing.T) {
	errs := &errorRecorder{}
	e, ft := newConnected(t, WithOnError(errs.record))

	e.SetNotificationHandler("fails", func(ctx context.Context, notif *protocol.Notification) error {
		return errors.New("nope")
	})
	e.SetNotificationHandler("panics", func(ctx context.Context, notif *protocol.Notification) error {
		panic("boom")
	})

	ft.Deliver(`{"jsonrpc":"2.0","method":"fails"}`)
	ft.Deliver(`{"jsonrpc":"2.0","method":"panics"}`)

	require.Eventually(t, func() bool { return len(errs.all()) == 2 }, time.Second, 5*time.Millisecond)
	got := errs.all()
	for _, err := range got {
		assert.ErrorIs(t, err, mcperrors.ErrHandlerFailure)
	}
	assert.Empty(t, ft.Sent())
}

func TestUnknownNotificationDropped(t *testing.T) {
	errs := &errorRecorder{}
	_, ft := newConnected(t, WithOnError(errs.record))

	ft.Deliver(`{"jsonrpc":"2.0","method":"nobody/listens"}`)

	assert.Empty(t, errs.all())
	assert.Empty(t, ft.Sent())
}

func TestFallbackNotificationHandler(t *testing.T) {
	e, ft := newConnected(t)

	var mu sync.Mutex
	var methods []string
	e.SetFallbackNotificationHandler(func(ctx context.Context, notif *protocol.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		methods = append(methods, notif.Method)
		return nil
	})
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), methods...)
	}
	e.SetNotificationHandler("known", func(ctx context.Context, notif *protocol.Notification) error {
		return nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","method":"a"}`)
	ft.Deliver(`{"jsonrpc":"2.0","method":"known"}`)
	ft.Deliver(`{"jsonrpc":"2.0","method":"b"}`)

	assert.Eventually(t, func() bool { return len(seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, seen())

	e.RemoveNotificationHandler("known")
	ft.Deliver(`{"jsonrpc":"2.0","method":"known"}`)
	assert.Eventually(t, func() bool { return len(seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "known"}, seen())
}

func TestHandlerCanIssueRequests(t *testing.T) {
	e, ft := newConnected(t)

	e.SetRequestHandler("outer", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		raw, err := e.Request(ctx, "inner", nil)
		if err != nil {
			return nil, err
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		return "outer+" + inner, nil
	})

	ft.Deliver(`{"jsonrpc":"2.0","id":"o1","method":"outer"}`)

	msg, ok := ft.NextSent(time.Second)
	require.True(t, ok)
	assert.Equal(t, "inner", msg.Method)

	ft.Deliver(`{"jsonrpc":"2.0","id":` + msg.ID.String() + `,"result":"inner"}`)

	reply, ok := ft.NextSent(time.Second)
	require.True(t, ok)
	assert.Equal(t, "o1", reply.ID.String())
	assert.JSONEq(t, `"outer+inner"`, string(reply.Result))
}
