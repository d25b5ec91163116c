package dht

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/pkg/types"
)

func contactAt(byte0 byte) types.Contact {
	var id types.ID
	id[0] = byte0
	ep := types.Endpoint{}
	return types.Contact{ID: &id, Addr: ep}
}

func TestCandidateSetNthDistanceOrdersByCloseness(t *testing.T) {
	var target types.ID // all zero, so XOR distance == the id itself
	cs := newCandidateSet(target)
	cs.Add(contactAt(0x80), contactAt(0x01), contactAt(0x40))

	d1, ok := cs.NthDistance(1)
	require.True(t, ok)
	assert.Equal(t, byte(0x01), d1[0])

	d3, ok := cs.NthDistance(3)
	require.True(t, ok)
	assert.Equal(t, byte(0x80), d3[0])

	_, ok = cs.NthDistance(4)
	assert.False(t, ok)
}

func TestCandidateSetNthDistanceSkipsIDlessContacts(t *testing.T) {
	var target types.ID
	cs := newCandidateSet(target)
	cs.Add(types.Contact{Addr: types.Endpoint{}})

	_, ok := cs.NthDistance(1)
	assert.False(t, ok)
}

// TestCollectStopsWhenNoCloserNodeIsLearned seeds the routing table
// with exactly the K closest possible contacts, then has the first
// round's evaluate push a further batch of candidates that are all
// farther from the target than anything already probed. Without the
// Closest()-based termination check, collect would keep draining the
// queue and probe those too; with it, collect must stop at K.
func TestCollectStopsWhenNoCloserNodeIsLearned(t *testing.T) {
	var target types.ID
	rt := NewRoutingTable(target, nil, nil)

	for i := 1; i <= K; i++ {
		ok := rt.TryAdd(contactAt(byte(i)), true)
		require.True(t, ok)
	}

	far := make([]types.Contact, 0, collectConcurrency*3)
	for i := 0; i < collectConcurrency*3; i++ {
		far = append(far, contactAt(0xC0+byte(i)))
	}

	var (
		mu     sync.Mutex
		probed int
		once   sync.Once
	)
	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		mu.Lock()
		probed++
		mu.Unlock()
		once.Do(func() {
			for _, c := range far {
				learned.Push(c)
			}
		})
	}

	err := collect(context.Background(), rt, target, evaluate)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, K, probed, "collect should stop once the K closest probed contacts are no longer improved on by anything still queued")
}
