package dht

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/pkg/types"
)

func contactWithID(id types.ID) types.Contact {
	return types.Contact{ID: &id}
}

func TestRoutingTableFindClosestOrdersByXorDistance(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	target := types.RandomID()
	var ids []types.ID
	for i := 0; i < 20; i++ {
		id := types.RandomID()
		ids = append(ids, id)
		rt.TryAdd(contactWithID(id), true)
	}

	got := rt.FindClosest(target, len(ids))
	require.Len(t, got, len(ids))
	for i := 1; i < len(got); i++ {
		prev := got[i-1].ID.Xor(target)
		cur := got[i].ID.Xor(target)
		assert.False(t, cur.Less(prev), "result must be non-decreasing in XOR distance")
	}
}

func TestRoutingTableBucketsNeverExceedK(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	// Force many contacts into the same low-depth bucket by sharing a
	// common prefix with local but never splitting beyond the own-id
	// bucket: only the bucket that would contain our own id splits, so
	// any bucket that is NOT on the local-id path must cap at K.
	for i := 0; i < 64; i++ {
		id := types.RandomID()
		// Ensure this id never shares local's full prefix-that-matters by
		// flipping the top bit relative to local, forcing it away from
		// the always-splitting own-id bucket once enough entries exist.
		id[0] = local[0] ^ 0x80
		rt.TryAdd(contactWithID(id), true)
	}

	for i := 0; i < rt.BucketCount(); i++ {
		b := rt.buckets[i]
		b.mu.Lock()
		n := len(b.entries)
		b.mu.Unlock()
		assert.LessOrEqual(t, n, K)
	}
}

func TestRoutingTableOkPromotesAndResetsFailures(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	id := types.RandomID()
	c := contactWithID(id)
	rt.TryAdd(c, true)

	rt.Fail(c)
	rt.Fail(c)
	entry := rt.Find(id)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.FailCount)

	rt.Ok(c)
	entry = rt.Find(id)
	require.NotNil(t, entry)
	assert.Equal(t, 0, entry.FailCount)
	assert.True(t, entry.Good())
}

func TestRoutingTableEvictsAfterMaxFailures(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	id := types.RandomID()
	c := contactWithID(id)
	rt.TryAdd(c, true)

	for i := 0; i <= MaxFailures; i++ {
		rt.Fail(c)
	}

	assert.Nil(t, rt.Find(id))
}

func TestRoutingTableRejectsOwnID(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	added := rt.TryAdd(contactWithID(local), true)
	assert.False(t, added)
	assert.Equal(t, 0, rt.Size())
}

func TestRoutingTableSplitsOwnBucketUnderLoad(t *testing.T) {
	local := types.RandomID()
	rt := NewRoutingTable(local, nil, clock.NewMock())

	// Contacts sharing a long common prefix with local all land in the
	// own-id bucket and force it to split past one bucket.
	for i := 0; i < K+1; i++ {
		id := local
		id[19] ^= byte(i + 1) // differ only in the last byte: long shared prefix
		rt.TryAdd(contactWithID(id), true)
	}

	assert.Greater(t, rt.BucketCount(), 1)
}
