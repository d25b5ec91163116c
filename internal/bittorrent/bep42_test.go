package bittorrent

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBEP42IDIsDeterministicGivenSameRandomness(t *testing.T) {
	ip := netip.MustParseAddr("203.0.113.42")
	id1, err := BEP42ID(ip, 5)
	require.NoError(t, err)

	// The hashed prefix (bytes 0-1, and the top 5 bits of byte 2) depends
	// only on (ip, r), not on the random fill bytes, so two derivations
	// from the same inputs must agree there even though the full ids
	// differ in their random tail.
	id2, err := BEP42ID(ip, 5)
	require.NoError(t, err)

	assert.Equal(t, id1[0], id2[0])
	assert.Equal(t, id1[1], id2[1])
	assert.Equal(t, id1[2]&0xf8, id2[2]&0xf8)
	assert.Equal(t, byte(5), id1[19])
	assert.Equal(t, byte(5), id2[19])
}

func TestBEP42IDChangesWithSecurityByte(t *testing.T) {
	ip := netip.MustParseAddr("203.0.113.42")
	idA, err := BEP42ID(ip, 1)
	require.NoError(t, err)
	idB, err := BEP42ID(ip, 2)
	require.NoError(t, err)

	assert.NotEqual(t, idA[0:3], idB[0:3])
	assert.Equal(t, byte(1), idA[19])
	assert.Equal(t, byte(2), idB[19])
}

func TestBEP42IDRejectsInvalidAddr(t *testing.T) {
	_, err := BEP42ID(netip.Addr{}, 0)
	assert.Error(t, err)
}
