package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

type progressRecorder struct {
	mu      sync.Mutex
	updates []protocol.ProgressParams
}

func (r *progressRecorder) record(update protocol.ProgressParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *progressRecorder) all() []protocol.ProgressParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.ProgressParams, len(r.updates))
	copy(out, r.updates)
	return out
}

func TestProgressTokenInjected(t *testing.T) {
	e, ft := newConnected(t)

	rec := &progressRecorder{}
	ch := requestAsync(context.Background(), e, "tools/call", map[string]interface{}{
		"name":  "build",
		"_meta": map[string]string{"trace": "abc"},
	}, WithProgress(rec.record))

	sent := ft.WaitForSent(t, 1, time.Second)
	token, ok := protocol.ProgressTokenOf(sent[0].Params)
	require.True(t, ok)
	assert.Equal(t, sent[0].ID.String(), token.String())

	var params struct {
		Name string            `json:"name"`
		Meta map[string]string `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(sent[0].Params, &params))
	assert.Equal(t, "build", params.Name)
	assert.Equal(t, "abc", params.Meta["trace"])

	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	require.NoError(t, waitResult(t, ch).err)
}

func TestProgressWithoutSinkSendsNoToken(t *testing.T) {
	e, ft := newConnected(t)

	ch := requestAsync(context.Background(), e, "x", map[string]string{"a": "b"})
	sent := ft.WaitForSent(t, 1, time.Second)
	_, ok := protocol.ProgressTokenOf(sent[0].Params)
	assert.False(t, ok)

	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	require.NoError(t, waitResult(t, ch).err)
}

func TestProgressRoutedToSink(t *testing.T) {
	e, ft := newConnected(t)

	rec := &progressRecorder{}
	ch := requestAsync(context.Background(), e, "long", nil, WithProgress(rec.record))
	ft.WaitForSent(t, 1, time.Second)

	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":1,"total":3,"message":"step 1"}}`)
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":2}}`)
	// Unknown tokens are dropped
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":77,"progress":9}}`)
	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	require.NoError(t, waitResult(t, ch).err)

	// Everything sent before the response reached the sink before Request returned
	updates := rec.all()
	require.Len(t, updates, 2)
	assert.Equal(t, float64(1), updates[0].Progress)
	require.NotNil(t, updates[0].Total)
	assert.Equal(t, float64(3), *updates[0].Total)
	assert.Equal(t, "step 1", updates[0].Message)
	assert.Equal(t, float64(2), updates[1].Progress)
	assert.Nil(t, updates[1].Total)

	// Stale once the request settled
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":3}}`)
	assert.Len(t, rec.all(), 2)
}

func TestProgressWithoutTokenReported(t *testing.T) {
	errs := &errorRecorder{}
	_, ft := newConnected(t, WithOnError(errs.record))

	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":1}}`)

	require.Len(t, errs.all(), 1)
	assert.ErrorIs(t, errs.all()[0], mcperrors.ErrProtocolViolation)
}

func TestProgressResetsTimeout(t *testing.T) {
	e, ft := newConnected(t, WithCancelNotifications(false))

	rec := &progressRecorder{}
	ch := requestAsync(context.Background(), e, "long", nil,
		WithTimeout(60*time.Millisecond),
		WithProgress(rec.record),
		WithResetTimeoutOnProgress(0),
	)
	ft.WaitForSent(t, 1, time.Second)

	// Keep the request alive well past its own timeout
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":1}}`)
	}

	ft.Deliver(`{"jsonrpc":"2.0","id":0,"result":"finished"}`)
	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.JSONEq(t, `"finished"`, string(res.raw))
	assert.Len(t, rec.all(), 5)
}

func TestProgressWithoutResetKeepsTimeout(t *testing.T) {
	e, ft := newConnected(t, WithCancelNotifications(false))

	rec := &progressRecorder{}
	ch := requestAsync(context.Background(), e, "long", nil,
		WithTimeout(60*time.Millisecond),
		WithProgress(rec.record),
	)
	ft.WaitForSent(t, 1, time.Second)

	time.Sleep(30 * time.Millisecond)
	ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":1}}`)

	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, mcperrors.ErrTimeout)
}

func TestProgressResetBoundedByMaxTotal(t *testing.T) {
	e, ft := newConnected(t, WithCancelNotifications(false))

	start := time.Now()
	ch := requestAsync(context.Background(), e, "long", nil,
		WithTimeout(50*time.Millisecond),
		WithProgress(func(protocol.ProgressParams) {}),
		WithResetTimeoutOnProgress(120*time.Millisecond),
	)
	ft.WaitForSent(t, 1, time.Second)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ft.Deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":0,"progress":1}}`)
			}
		}
	}()

	res := waitResult(t, ch)
	elapsed := time.Since(start)
	assert.ErrorIs(t, res.err, mcperrors.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestNotifyProgress(t *testing.T) {
	e, ft := newConnected(t)

	total := 10.0
	require.NoError(t, e.NotifyProgress(context.Background(), protocol.StringID("tok"), 4, &total, "working"))

	sent := ft.WaitForSent(t, 1, time.Second)
	assert.Equal(t, protocol.MethodProgressNotification, sent[0].Method)

	var params protocol.ProgressParams
	require.NoError(t, json.Unmarshal(sent[0].Params, &params))
	assert.Equal(t, "tok", params.ProgressToken.String())
	assert.Equal(t, float64(4), params.Progress)
	require.NotNil(t, params.Total)
	assert.Equal(t, total, *params.Total)
	assert.Equal(t, "working", params.Message)
}
