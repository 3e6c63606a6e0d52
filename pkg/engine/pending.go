package engine

import (
	"encoding/json"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// outcome is the single settlement of a pending request
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is the bookkeeping for one outgoing request. It is owned by
// the pendingTable from register until exactly one settle removes it.
type pendingRequest struct {
	id     protocol.RequestID
	key    string
	method string
	sentAt time.Time

	// done receives the outcome exactly once
	done chan outcome

	progress ProgressFunc
	// sinks runs progress callbacks; created on the first update under the
	// table lock and fixed once the entry is removed
	sinks *taskQueue

	timeout         time.Duration
	resetOnProgress bool
	maxTotalTimeout time.Duration

	// timer is set under the table lock during register and never replaced
	timer *time.Timer
}

func newPendingRequest(id protocol.RequestID, method string) *pendingRequest {
	return &pendingRequest{
		id:     id,
		key:    id.String(),
		method: method,
		sentAt: time.Now(),
		done:   make(chan outcome, 1),
	}
}

// pendingTable maps outstanding request ids to their waiting callers.
// Removal under the lock decides which settlement source wins.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// register adds p and arms its deadline timer, if any
func (pt *pendingTable) register(p *pendingRequest) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, exists := pt.entries[p.key]; exists {
		return mcperrors.DuplicateRequestID(p.id)
	}
	pt.entries[p.key] = p

	if p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, func() {
			pt.settle(p.key, outcome{err: mcperrors.Timeout(p.method, p.id, p.timeout)})
		})
	}
	return nil
}

// settle removes the entry for key and delivers out to its caller. It reports
// false when no entry exists, which makes every later attempt a no-op.
func (pt *pendingTable) settle(key string, out outcome) bool {
	pt.mu.Lock()
	p, ok := pt.entries[key]
	if ok {
		delete(pt.entries, key)
	}
	pt.mu.Unlock()

	if !ok {
		return false
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- out
	return true
}

// get returns the entry for key without removing it
func (pt *pendingTable) get(key string) (*pendingRequest, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.entries[key]
	return p, ok
}

// drainAll settles every entry with err and returns how many there were
func (pt *pendingTable) drainAll(err error) int {
	pt.mu.Lock()
	entries := pt.entries
	pt.entries = make(map[string]*pendingRequest)
	pt.mu.Unlock()

	for _, p := range entries {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- outcome{err: err}
	}
	return len(entries)
}

// len returns the number of outstanding requests
func (pt *pendingTable) len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.entries)
}
