package dht

import (
	"sync"

	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              请求关联表
// ============================================================================

// pendingRequest is one outstanding query awaiting a reply, keyed by
// transaction id. A single-owner channel stands in for the callback style
// the reference DHT uses for this same purpose.
type pendingRequest struct {
	peer types.Endpoint
	done chan *message // buffered 1; nil message on cancellation
}

// pendingTable correlates outbound transaction ids with the goroutine
// waiting on their reply.
type pendingTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{pending: make(map[string]*pendingRequest)}
}

// Register reserves txnID for peer and returns the channel its reply (or a
// nil on timeout/cancel) will arrive on.
func (t *pendingTable) Register(txnID string, peer types.Endpoint) <-chan *message {
	t.mu.Lock()
	defer t.mu.Unlock()
	req := &pendingRequest{peer: peer, done: make(chan *message, 1)}
	t.pending[txnID] = req
	return req.done
}

// Deliver completes the pending request for txnID if its peer matches.
// Returns false if there was no such pending request, or it had come from
// a different peer (a spoofing defense).
func (t *pendingTable) Deliver(txnID string, from types.Endpoint, m *message) bool {
	t.mu.Lock()
	req, ok := t.pending[txnID]
	if !ok || !req.peer.Equal(from) {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, txnID)
	t.mu.Unlock()

	req.done <- m
	return true
}

// Cancel removes and unblocks the pending request for txnID, if any.
func (t *pendingTable) Cancel(txnID string) {
	t.mu.Lock()
	req, ok := t.pending[txnID]
	if ok {
		delete(t.pending, txnID)
	}
	t.mu.Unlock()
	if ok {
		req.done <- nil
	}
}

// Len returns the number of outstanding requests (used by tests only).
func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
