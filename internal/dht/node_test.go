package dht

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	n, err := New(conn, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// seedPair makes a and b aware of one another via a bare ping, the way a
// freshly bootstrapped node would learn of its first contact.
func seedPair(t *testing.T, a, b *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, a.Ping(ctx, b.LocalAddr()))
	require.True(t, b.Ping(ctx, a.LocalAddr()))
}

// newTestMesh returns n fully-connected nodes: every node knows every
// other node's contact, the way a tiny real swarm converges after a
// round of bootstrapping. The responsible-node logic under test needs at
// least 3 nodes to exercise a write landing on one peer and a read
// reaching it through a third.
func newTestMesh(t *testing.T, n int) []*Node {
	t.Helper()
	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = newTestNode(t)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			seedPair(t, nodes[i], nodes[j])
		}
	}
	return nodes
}

func TestNodePingPromotesContact(t *testing.T) {
	a, b := newTestNode(t), newTestNode(t)
	seedPair(t, a, b)

	require.Equal(t, 1, a.RoutingTable().Size())
	require.Equal(t, 1, b.RoutingTable().Size())
}

func TestNodeFindNodeReturnsKnownContacts(t *testing.T) {
	mesh := newTestMesh(t, 3)
	a, b, c := mesh[0], mesh[1], mesh[2]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	contacts, err := b.FindNode(ctx, a.LocalAddr(), c.ID())
	require.NoError(t, err)

	found := false
	for _, contact := range contacts {
		if contact.HasID() && *contact.ID == c.ID() {
			found = true
		}
	}
	require.True(t, found, "a should have reported c, which it knows about")
}

func TestTrackerAnnounceAndGetPeersRoundTrip(t *testing.T) {
	mesh := newTestMesh(t, 3)
	announcer, seeker := mesh[0], mesh[1]

	infoHash := types.RandomID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := TrackerAnnounce(ctx, announcer, infoHash, 6881)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	peers, _, err := TrackerGetPeers(ctx, seeker, infoHash)
	require.NoError(t, err)
	require.NotEmpty(t, peers)
}

func TestAnnounceInjectorAndURIPeersRoundTrip(t *testing.T) {
	mesh := newTestMesh(t, 3)
	announcer, seeker := mesh[0], mesh[1]

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := AnnounceInjector(ctx, announcer, pub, 5, 6883)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	peers, _, err := InjectorPeers(ctx, seeker, pub, 5)
	require.NoError(t, err)
	require.NotEmpty(t, peers)

	// a distinct swarm (the URI swarm for the same key) is unrelated:
	// nothing has announced into it.
	uriPeers, _, err := URIPeers(ctx, seeker, pub, 5, "https://example.com/a")
	require.NoError(t, err)
	require.Empty(t, uriPeers)
}

func TestImmutablePutGetRoundTrip(t *testing.T) {
	mesh := newTestMesh(t, 3)
	writer, reader := mesh[0], mesh[1]

	value, err := bencode.Encode("hello ouinet")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, n, err := ImmutablePut(ctx, writer, value)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, ImmutableKey(value), key)

	got, err := ImmutableGet(ctx, reader, key)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestMutablePutGetRoundTripAndCAS(t *testing.T) {
	mesh := newTestMesh(t, 3)
	writer, reader := mesh[0], mesh[1]

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	salt := []byte("feed")

	v1, err := bencode.Encode("v1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := MutablePut(ctx, writer, priv, salt, v1, 1, nil)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	got, err := MutableGet(ctx, reader, pub, salt)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Seq)
	require.Equal(t, v1, got.Value)

	v2, err := bencode.Encode("v2")
	require.NoError(t, err)

	badCAS := int64(0)
	_, err = MutablePut(ctx, writer, priv, salt, v2, 2, &badCAS)
	require.Error(t, err)

	goodCAS := int64(1)
	n, err = MutablePut(ctx, writer, priv, salt, v2, 2, &goodCAS)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	got, err = MutableGet(ctx, reader, pub, salt)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Seq)
	require.Equal(t, v2, got.Value)
}

func TestMultiMergesPeersAcrossNodes(t *testing.T) {
	mesh := newTestMesh(t, 3)
	announcer, seeker := mesh[0], mesh[1]

	multi := NewMulti(seeker)

	infoHash := types.RandomID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := TrackerAnnounce(ctx, announcer, infoHash, 6882)
	require.NoError(t, err)

	peers, err := multi.TrackerGetPeers(ctx, infoHash)
	require.NoError(t, err)
	require.NotEmpty(t, peers)
}
