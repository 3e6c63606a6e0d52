package engine

import (
	"math"
	"sync/atomic"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// IDAllocator hands out strictly increasing numeric request ids. It is safe
// for concurrent use. Once the counter reaches math.MaxInt64 every further
// call fails with mcperrors.ErrIDSpaceExhausted rather than wrapping.
type IDAllocator struct {
	start int64
	next  atomic.Int64
}

// NewIDAllocator returns an allocator whose first id is start
func NewIDAllocator(start int64) *IDAllocator {
	a := &IDAllocator{start: start}
	a.next.Store(start)
	return a
}

// Next returns the next id
func (a *IDAllocator) Next() (protocol.RequestID, error) {
	for {
		cur := a.next.Load()
		if cur == math.MaxInt64 {
			return protocol.RequestID{}, mcperrors.IDSpaceExhausted()
		}
		if a.next.CompareAndSwap(cur, cur+1) {
			return protocol.NumberID(cur), nil
		}
	}
}

// Issued reports whether id was handed out by this allocator
func (a *IDAllocator) Issued(id protocol.RequestID) bool {
	n, ok := id.Int64()
	if !ok {
		return false
	}
	return n >= a.start && n < a.next.Load()
}
