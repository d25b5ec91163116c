package bencode

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/pkg/types"
)

func TestEncodeByteString(t *testing.T) {
	b, err := Encode([]byte("spam"))
	require.NoError(t, err)
	assert.Equal(t, "4:spam", string(b))
}

func TestEncodeInt(t *testing.T) {
	b, err := Encode(int64(3))
	require.NoError(t, err)
	assert.Equal(t, "i3e", string(b))

	b, err = Encode(int64(-3))
	require.NoError(t, err)
	assert.Equal(t, "i-3e", string(b))
}

func TestEncodeListAndDict(t *testing.T) {
	b, err := Encode([]any{[]byte("spam"), []byte("eggs")})
	require.NoError(t, err)
	assert.Equal(t, "l4:spam4:eggse", string(b))

	d := NewDict(KV{"cow", []byte("moo")}, KV{"spam", []byte("eggs")})
	b, err = Encode(d)
	require.NoError(t, err)
	assert.Equal(t, "d3:cow3:moo4:spam4:eggse", string(b))
}

func TestEncodeMapIsSortedByKey(t *testing.T) {
	b, err := Encode(map[string]any{"zeta": int64(1), "alpha": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, "d5:alphai2e4:zetai1ee", string(b))
}

func TestDecodeRoundTripsAllFourTypes(t *testing.T) {
	cases := []any{
		[]byte("hello world"),
		int64(0),
		int64(-42),
		int64(1 << 40),
		[]any{[]byte("a"), int64(1)},
		NewDict(KV{"a", []byte("b")}, KV{"seq", int64(5)}),
	}
	for _, want := range cases {
		enc, err := Encode(want)
		require.NoError(t, err)
		got, err := DecodeFull(enc)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeRejectsNonCanonicalInteger(t *testing.T) {
	_, _, err := Decode([]byte("i03e"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = Decode([]byte("i-0e"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode([]byte("5:abc"))
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Decode([]byte("d3:foo"))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeDictPreservesKeyOrder(t *testing.T) {
	v, err := DecodeFull([]byte("d3:seqi5e1:v4:spame"))
	require.NoError(t, err)
	d := v.(Dict)
	require.Len(t, d, 2)
	assert.Equal(t, "seq", d[0].Key)
	assert.Equal(t, "v", d[1].Key)
}

func TestCompactEndpointRoundTripIPv4(t *testing.T) {
	ep := types.Endpoint{IP: netip.MustParseAddr("203.0.113.42"), Port: 6881}
	buf, err := EncodeEndpoint(nil, ep)
	require.NoError(t, err)
	require.Len(t, buf, 6)

	got, rest, err := DecodeEndpoint(buf, false)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, ep.Equal(got))
}

func TestCompactEndpointRoundTripIPv6(t *testing.T) {
	ep := types.Endpoint{IP: netip.MustParseAddr("2001:db8::1"), Port: 6881}
	buf, err := EncodeEndpoint(nil, ep)
	require.NoError(t, err)
	require.Len(t, buf, 18)

	got, rest, err := DecodeEndpoint(buf, true)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, ep.Equal(got))
}

func TestCompactNodesRoundTrip(t *testing.T) {
	id1, id2 := types.RandomID(), types.RandomID()
	contacts := []types.Contact{
		{ID: &id1, Addr: types.Endpoint{IP: netip.MustParseAddr("203.0.113.1"), Port: 1}},
		{ID: &id2, Addr: types.Endpoint{IP: netip.MustParseAddr("203.0.113.2"), Port: 2}},
	}
	buf, err := EncodeCompactNodes(contacts, false)
	require.NoError(t, err)

	got, err := DecodeCompactNodes(buf, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id1, *got[0].ID)
	assert.Equal(t, id2, *got[1].ID)
}

func TestIsMartianRejectsLoopbackAndZero(t *testing.T) {
	assert.True(t, IsMartian(types.Endpoint{IP: netip.MustParseAddr("127.0.0.1"), Port: 6881}))
	assert.True(t, IsMartian(types.Endpoint{IP: netip.MustParseAddr("0.0.0.0"), Port: 6881}))
	assert.True(t, IsMartian(types.Endpoint{IP: netip.MustParseAddr("224.0.0.1"), Port: 6881}))
	assert.True(t, IsMartian(types.Endpoint{IP: netip.MustParseAddr("203.0.113.1"), Port: 0}))
	assert.False(t, IsMartian(types.Endpoint{IP: netip.MustParseAddr("203.0.113.1"), Port: 6881}))
}

func TestDecodeCompactPeerRejectsMartian(t *testing.T) {
	ep := types.Endpoint{IP: netip.MustParseAddr("127.0.0.1"), Port: 6881}
	buf, err := EncodeEndpoint(nil, ep)
	require.NoError(t, err)
	_, err = DecodeCompactPeer(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}
