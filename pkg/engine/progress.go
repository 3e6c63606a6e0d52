package engine

import (
	"time"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// ProgressFunc receives progress updates for an outstanding request. Updates
// for one request arrive in order on a goroutine of their own, so the sink may
// call Request on the same engine. Every update the peer sent before its
// response has been handed to the sink by the time Request returns, and none
// is handed over after that.
type ProgressFunc func(update protocol.ProgressParams)

// routeProgress queues update for the sink of the request its token names
// and restarts that request's deadline when asked to. It reports whether the
// update was queued; unknown or stale tokens are dropped.
func (pt *pendingTable) routeProgress(update protocol.ProgressParams) bool {
	pt.mu.Lock()
	p, ok := pt.entries[update.ProgressToken.String()]
	if !ok || p.progress == nil {
		pt.mu.Unlock()
		return false
	}
	if p.sinks == nil {
		p.sinks = newTaskQueue()
	}
	sinks := p.sinks
	pt.mu.Unlock()

	if p.resetOnProgress && p.timer != nil {
		elapsed := time.Since(p.sentAt)
		if p.maxTotalTimeout > 0 && elapsed >= p.maxTotalTimeout {
			pt.settle(p.key, outcome{err: mcperrors.Timeout(p.method, p.id, p.maxTotalTimeout)})
			return false
		}

		next := p.timeout
		if p.maxTotalTimeout > 0 && elapsed+next > p.maxTotalTimeout {
			next = p.maxTotalTimeout - elapsed
		}
		p.timer.Reset(next)
	}

	// Fails once the request settled and its caller closed the queue
	return sinks.push(func() { p.progress(update) })
}

// finishProgress stops progress delivery for a settled request and waits for
// a running sink to return. Updates queued before an answer from the peer
// are still delivered; after a local timeout, cancel or close they are
// discarded.
func (p *pendingRequest) finishProgress(answered bool) {
	if p.sinks == nil {
		return
	}
	p.sinks.close(answered)
	p.sinks.wait()
}
