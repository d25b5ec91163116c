package dht

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              迭代查找 ("collect")
// ============================================================================

// collectConcurrency bounds the number of in-flight probes an iterative
// lookup keeps outstanding at once.
const collectConcurrency = 8

// Evaluate is invoked once per candidate visited by collect. It performs
// the candidate-specific RPC (find_node, get_peers, get, ...) and pushes
// any newly learned, closer contacts onto learned.
type Evaluate func(ctx context.Context, candidate types.Contact, learned *closerQueue)

// closerQueue is the thread-safe sink an Evaluate callback pushes newly
// discovered contacts into.
type closerQueue struct {
	mu   sync.Mutex
	push func(types.Contact)
}

func (q *closerQueue) Push(c types.Contact) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(c)
}

// candidateSet maintains the set of contacts visited or pending for one
// collect run, kept in strict non-decreasing XOR(id, target) order with
// contacts lacking an id sorted last, per spec.md §3 "Contact" ordering.
type candidateSet struct {
	mu      sync.Mutex
	target  types.ID
	visited map[types.ID]bool
	seen    map[string]bool // endpoint string, for id-less contacts
	order   []types.Contact
}

func newCandidateSet(target types.ID) *candidateSet {
	return &candidateSet{
		target:  target,
		visited: make(map[types.ID]bool),
		seen:    make(map[string]bool),
	}
}

func (cs *candidateSet) less(a, b types.Contact) bool {
	switch {
	case a.HasID() && b.HasID():
		da, db := a.ID.Xor(cs.target), b.ID.Xor(cs.target)
		if da != db {
			return da.Less(db)
		}
		return a.Addr.String() < b.Addr.String()
	case a.HasID() && !b.HasID():
		return true
	case !a.HasID() && b.HasID():
		return false
	default:
		return a.Addr.String() < b.Addr.String()
	}
}

// Add inserts contacts not already known, keeping cs.order sorted.
func (cs *candidateSet) Add(contacts ...types.Contact) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range contacts {
		if c.HasID() {
			if cs.visited[*c.ID] {
				continue
			}
		} else if cs.seen[c.Addr.String()] {
			continue
		}
		cs.order = append(cs.order, c)
	}
	sort.Slice(cs.order, func(i, j int) bool { return cs.less(cs.order[i], cs.order[j]) })
}

// Next pops the closest not-yet-visited candidate, or ok=false if none
// remain.
func (cs *candidateSet) Next() (types.Contact, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.order) == 0 {
		return types.Contact{}, false
	}
	c := cs.order[0]
	cs.order = cs.order[1:]
	if c.HasID() {
		cs.visited[*c.ID] = true
	} else {
		cs.seen[c.Addr.String()] = true
	}
	return c, true
}

// Closest reports the head of the remaining queue, without popping it, for
// the termination check ("no closer node learned this round").
func (cs *candidateSet) Closest() (types.Contact, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.order) == 0 {
		return types.Contact{}, false
	}
	return cs.order[0], true
}

// NthDistance reports the XOR(id, target) distance of the n-th closest
// (1-indexed) contact currently held, or ok=false if fewer than n
// id'd contacts are held. Used to compare the best already-probed
// contacts against whatever remains in the pending queue.
func (cs *candidateSet) NthDistance(n int) (types.ID, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if n <= 0 || n > len(cs.order) {
		return types.ID{}, false
	}
	c := cs.order[n-1]
	if !c.HasID() {
		return types.ID{}, false
	}
	return c.ID.Xor(cs.target), true
}

// collect runs the iterative closest-node search: seed with the routing
// table's current closest-known contacts, then repeatedly probe up to
// collectConcurrency candidates in parallel via evaluate, feeding newly
// learned contacts back into the frontier, until either the candidate
// queue is exhausted, the context is cancelled, or — per spec.md §4.4 —
// the K closest contacts probed so far are no longer improved on by
// anything left in the queue ("no closer node learned this round").
func collect(ctx context.Context, rt *RoutingTable, target types.ID, evaluate Evaluate) error {
	cs := newCandidateSet(target)
	cs.Add(rt.FindClosest(target, K)...)
	probed := newCandidateSet(target)

	for {
		batch := make([]types.Contact, 0, collectConcurrency)
		for i := 0; i < collectConcurrency; i++ {
			c, ok := cs.Next()
			if !ok {
				break
			}
			batch = append(batch, c)
		}
		if len(batch) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		queue := &closerQueue{push: func(c types.Contact) { cs.Add(c) }}
		for _, candidate := range batch {
			candidate := candidate
			g.Go(func() error {
				evaluate(gctx, candidate, queue)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		probed.Add(batch...)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if kth, ok := probed.NthDistance(K); ok {
			next, hasNext := cs.Closest()
			if !hasNext || !next.HasID() || !next.ID.Xor(target).Less(kth) {
				return nil
			}
		}
	}
}
