package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromBytesRoundTrip(t *testing.T) {
	want := RandomID()
	got, err := IDFromBytes(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIDFromBytesRejectsWrongLength(t *testing.T) {
	_, err := IDFromBytes(make([]byte, 19))
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestIDXorIsSymmetric(t *testing.T) {
	a, b := RandomID(), RandomID()
	assert.Equal(t, a.Xor(b), b.Xor(a))
}

func TestIDXorWithSelfIsZero(t *testing.T) {
	a := RandomID()
	assert.Equal(t, ZeroID, a.Xor(a))
}

func TestIDLessOrdersByBigEndianMagnitude(t *testing.T) {
	var a, b ID
	a[0], b[0] = 0x01, 0x02
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestIDCommonPrefixLen(t *testing.T) {
	var a, b ID
	a[0] = 0b10110000
	b[0] = 0b10100000
	// differ at bit index 3 (0-based) of the first byte
	assert.Equal(t, 3, a.CommonPrefixLen(b))

	assert.Equal(t, IDLen*8, a.CommonPrefixLen(a))
}

func TestIDBit(t *testing.T) {
	var a ID
	a[0] = 0b00000001
	assert.Equal(t, 0, a.Bit(0))
	assert.Equal(t, 1, a.Bit(7))
	assert.Equal(t, 0, a.Bit(8))
}

func TestIDFromHexRoundTrip(t *testing.T) {
	want := RandomID()
	got, err := IDFromHex(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
