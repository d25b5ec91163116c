// Package dht implements the Kademlia/BEP-5/BEP-44 participant described
// by the design: a routing table, iterative closest-node search, the
// inbound query handlers, and the high-level tracker/value operations.
package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dem31/ouinet/internal/util/logger"
	"github.com/dem31/ouinet/pkg/types"
)

var log = logger.Logger("dht")

// ============================================================================
//                              常量
// ============================================================================

const (
	// K is the BEP-5 default bucket size.
	K = 8

	// MaxFailures is how many consecutive query failures a contact may
	// accumulate and keep its slot; one more failure evicts it.
	MaxFailures = 3

	// MaxDepth caps how deep the own-id bucket may split. 160 would let
	// it split all the way to single-contact buckets; in practice real
	// swarms never approach that, so this just bounds worst-case memory.
	MaxDepth = types.IDLen * 8
)

// EvictionPolicy decides what happens when a bucket is full and cannot
// split further. The BEP-5 default (probe a questionable head, replace it
// on failure, otherwise drop the newcomer) is exposed as a hook rather
// than hard-coded, per the design's "expose a policy hook" note on
// routing-table eviction under churn.
type EvictionPolicy interface {
	// ShouldEvict is asked whether bucketHead (the least-recently-seen
	// entry) should be evicted in favor of newcomer. It is only invoked
	// when bucketHead is "questionable" (has failed at least once since
	// its last successful reply); good heads are never evicted by policy.
	ShouldEvict(bucketHead *ContactState, newcomer types.Contact) bool
}

// defaultEvictionPolicy implements the BEP-5 baseline: never evict a
// questionable head on a newcomer's behalf alone; the caller is expected
// to probe the head with ping first and call Fail/Ok based on the result.
type defaultEvictionPolicy struct{}

func (defaultEvictionPolicy) ShouldEvict(*ContactState, types.Contact) bool { return false }

// DefaultEvictionPolicy is the BEP-5 baseline policy.
func DefaultEvictionPolicy() EvictionPolicy { return defaultEvictionPolicy{} }

// ============================================================================
//                              ContactState
// ============================================================================

// ContactState is one routing-table entry: a contact plus the liveness
// bookkeeping that drives the questionable/good distinction.
type ContactState struct {
	Contact types.Contact

	FirstSeen time.Time
	LastSeen  time.Time
	LastQuery time.Time
	FailCount int
	Verified  bool
}

// Questionable reports whether the contact has failed at least once
// since it last successfully replied.
func (c *ContactState) Questionable() bool {
	return c.FailCount > 0
}

// Good reports whether the contact has replied recently and has no
// pending failures.
func (c *ContactState) Good() bool {
	return c.Verified && c.FailCount == 0
}

// ============================================================================
//                              Bucket
// ============================================================================

// bucket holds up to K verified contacts plus a short replacement list,
// ordered most-recently-seen first.
type bucket struct {
	mu           sync.Mutex
	entries      []*ContactState
	replacements []*ContactState
}

func newBucket() *bucket {
	return &bucket{
		entries:      make([]*ContactState, 0, K),
		replacements: make([]*ContactState, 0, K),
	}
}

func (b *bucket) find(id types.ID) *ContactState {
	for _, e := range b.entries {
		if e.Contact.ID != nil && *e.Contact.ID == id {
			return e
		}
	}
	return nil
}

func (b *bucket) touchFront(e *ContactState) {
	for i, existing := range b.entries {
		if existing == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	b.entries = append([]*ContactState{e}, b.entries...)
}

func (b *bucket) addReplacement(e *ContactState) {
	for i, existing := range b.replacements {
		if existing.Contact.ID != nil && e.Contact.ID != nil && *existing.Contact.ID == *e.Contact.ID {
			b.replacements[i] = e
			return
		}
	}
	if len(b.replacements) >= K {
		b.replacements = b.replacements[1:]
	}
	b.replacements = append(b.replacements, e)
}

func (b *bucket) removeAndPromote(id types.ID) {
	for i, e := range b.entries {
		if e.Contact.ID != nil && *e.Contact.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			if len(b.replacements) > 0 {
				promoted := b.replacements[len(b.replacements)-1]
				b.replacements = b.replacements[:len(b.replacements)-1]
				b.entries = append(b.entries, promoted)
			}
			return
		}
	}
}

// ============================================================================
//                              RoutingTable
// ============================================================================

// RoutingTable is a binary trie of buckets keyed by the local node id.
// buckets[i] holds contacts whose common-prefix length with the local id
// is exactly i, except the last bucket, which is the catch-all "own id"
// bucket and holds everything with common-prefix length >= len(buckets)-1;
// it is the only bucket ever split.
type RoutingTable struct {
	mu      sync.RWMutex
	localID types.ID
	k       int
	buckets []*bucket
	policy  EvictionPolicy
	clock   clock.Clock
}

// NewRoutingTable creates a table owned exclusively by the caller's DHT
// node; every access must go through that node's single task, per the
// design's single-owner resource rule.
func NewRoutingTable(localID types.ID, policy EvictionPolicy, clk clock.Clock) *RoutingTable {
	if policy == nil {
		policy = DefaultEvictionPolicy()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RoutingTable{
		localID: localID,
		k:       K,
		buckets: []*bucket{newBucket()},
		policy:  policy,
		clock:   clk,
	}
}

func (rt *RoutingTable) bucketIndex(id types.ID) int {
	cpl := rt.localID.CommonPrefixLen(id)
	if cpl >= len(rt.buckets) {
		return len(rt.buckets) - 1
	}
	return cpl
}

// TryAdd inserts contact into the bucket covering its id. If that bucket
// is full and is the own-id (last) bucket, it splits (up to MaxDepth);
// otherwise a questionable head is handed to the eviction policy, and a
// good head causes the newcomer to be placed in the replacement cache
// instead. Returns true if contact now has a table slot.
func (rt *RoutingTable) TryAdd(contact types.Contact, verified bool) bool {
	if contact.ID == nil || *contact.ID == rt.localID {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := rt.bucketIndex(*contact.ID)
	b := rt.buckets[idx]

	b.mu.Lock()
	if existing := b.find(*contact.ID); existing != nil {
		existing.Contact = contact
		existing.LastSeen = rt.clock.Now()
		if verified {
			existing.Verified = true
			existing.FailCount = 0
		}
		b.touchFront(existing)
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()

	entry := &ContactState{
		Contact:   contact,
		FirstSeen: rt.clock.Now(),
		LastSeen:  rt.clock.Now(),
		Verified:  verified,
	}

	return rt.insert(idx, entry)
}

// insert places entry into buckets[idx], splitting or consulting the
// eviction policy as needed. Must be called with rt.mu held.
func (rt *RoutingTable) insert(idx int, entry *ContactState) bool {
	b := rt.buckets[idx]

	b.mu.Lock()
	if len(b.entries) < rt.k {
		b.entries = append([]*ContactState{entry}, b.entries...)
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()

	isOwnBucket := idx == len(rt.buckets)-1
	if isOwnBucket && len(rt.buckets) < MaxDepth {
		rt.split(idx)
		newIdx := rt.bucketIndex(*entry.Contact.ID)
		return rt.insert(newIdx, entry)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	head := b.entries[len(b.entries)-1] // least-recently-seen
	if head.Questionable() && rt.policy.ShouldEvict(head, entry.Contact) {
		b.entries = b.entries[:len(b.entries)-1]
		b.entries = append([]*ContactState{entry}, b.entries...)
		return true
	}
	b.addReplacement(entry)
	return false
}

// split divides buckets[idx] (which must be the own-id bucket) into the
// bucket exactly at depth idx and a new own-id bucket at depth idx+1.
// Must be called with rt.mu held.
func (rt *RoutingTable) split(idx int) {
	old := rt.buckets[idx]
	lower := newBucket() // common-prefix-len == idx exactly
	upper := newBucket() // common-prefix-len >= idx+1 (new own-id bucket)

	redistribute := func(entries []*ContactState) {
		for _, e := range entries {
			cpl := rt.localID.CommonPrefixLen(*e.Contact.ID)
			if cpl <= idx {
				lower.entries = append(lower.entries, e)
			} else {
				upper.entries = append(upper.entries, e)
			}
		}
	}
	redistribute(old.entries)

	rt.buckets[idx] = lower
	rt.buckets = append(rt.buckets, nil)
	copy(rt.buckets[idx+2:], rt.buckets[idx+1:len(rt.buckets)-1])
	rt.buckets[idx+1] = upper
}

// Ok marks contact as having just replied successfully, promoting it in
// its bucket and resetting its failure counter.
func (rt *RoutingTable) Ok(contact types.Contact) {
	if contact.ID == nil {
		return
	}
	rt.mu.RLock()
	idx := rt.bucketIndex(*contact.ID)
	b := rt.buckets[idx]
	rt.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.find(*contact.ID)
	if e == nil {
		return
	}
	e.FailCount = 0
	e.Verified = true
	e.LastSeen = rt.clock.Now()
	e.LastQuery = rt.clock.Now()
	b.touchFront(e)
}

// Fail records a failed query to contact. Once its consecutive failures
// exceed MaxFailures the contact is evicted and replaced from the bucket's
// replacement cache, if any.
func (rt *RoutingTable) Fail(contact types.Contact) {
	if contact.ID == nil {
		return
	}
	rt.mu.RLock()
	idx := rt.bucketIndex(*contact.ID)
	b := rt.buckets[idx]
	rt.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.find(*contact.ID)
	if e == nil {
		return
	}
	e.FailCount++
	e.LastQuery = rt.clock.Now()
	if e.FailCount > MaxFailures {
		b.removeAndPromote(*contact.ID)
	}
}

// FindByAddr scans every bucket for a contact at addr. Outbound queries
// are addressed by endpoint, not id, so a timed-out query's only handle
// on the routing table is the address it was sent to.
func (rt *RoutingTable) FindByAddr(addr types.Endpoint) *ContactState {
	rt.mu.RLock()
	buckets := make([]*bucket, len(rt.buckets))
	copy(buckets, rt.buckets)
	rt.mu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		for _, e := range b.entries {
			if e.Contact.Addr.Equal(addr) {
				b.mu.Unlock()
				return e
			}
		}
		b.mu.Unlock()
	}
	return nil
}

// FindClosest returns up to n contacts ordered by non-decreasing XOR
// distance to target.
func (rt *RoutingTable) FindClosest(target types.ID, n int) []types.Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	type scored struct {
		contact  types.Contact
		distance types.ID
	}
	var all []scored
	for _, b := range rt.buckets {
		b.mu.Lock()
		for _, e := range b.entries {
			all = append(all, scored{contact: e.Contact, distance: e.Contact.ID.Xor(target)})
		}
		b.mu.Unlock()
	}

	sort.Slice(all, func(i, j int) bool { return all[i].distance.Less(all[j].distance) })

	if n > len(all) {
		n = len(all)
	}
	out := make([]types.Contact, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].contact
	}
	return out
}

// Find returns the routing-table entry for id, or nil.
func (rt *RoutingTable) Find(id types.ID) *ContactState {
	rt.mu.RLock()
	idx := rt.bucketIndex(id)
	b := rt.buckets[idx]
	rt.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.find(id)
}

// Size returns the total number of contacts held across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		b.mu.Lock()
		n += len(b.entries)
		b.mu.Unlock()
	}
	return n
}

// BucketCount returns how many buckets the table currently has (1 plus
// the number of times the own-id bucket has split).
func (rt *RoutingTable) BucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets)
}
