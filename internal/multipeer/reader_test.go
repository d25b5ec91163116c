package multipeer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/internal/store"
	"github.com/dem31/ouinet/pkg/bep5swarms"
	"github.com/dem31/ouinet/pkg/signedhttp"
)

const testBlockSize = 16

// storePeer adapts a store.Entry to the Peer interface, serving
// exactly what a real swarm member would: its own locally-persisted
// copy of the object.
type storePeer struct {
	name  string
	entry *store.Entry
}

func (p *storePeer) String() string { return p.name }

func (p *storePeer) FetchHead(ctx context.Context, key string) (signedhttp.Head, error) {
	return p.entry.Head()
}

func (p *storePeer) FetchRange(ctx context.Context, key string, first, last int64) (signedhttp.Head, io.ReadCloser, error) {
	return p.entry.RangeReader(first, last)
}

// failingPeer always errs, simulating an unreachable or malicious
// swarm member.
type failingPeer struct{ name string }

func (p *failingPeer) String() string { return p.name }
func (p *failingPeer) FetchHead(ctx context.Context, key string) (signedhttp.Head, error) {
	return signedhttp.Head{}, fmt.Errorf("failingPeer: refused")
}
func (p *failingPeer) FetchRange(ctx context.Context, key string, first, last int64) (signedhttp.Head, io.ReadCloser, error) {
	return signedhttp.Head{}, nil, fmt.Errorf("failingPeer: refused")
}

func buildTestEntry(t *testing.T, dir string, priv ed25519.PrivateKey, pub ed25519.PublicKey, key string, blocks [][]byte) *store.Entry {
	t.Helper()

	s := store.New(dir)

	injID := uuid.New()

	h := http.Header{}
	h.Set(signedhttp.HeaderVersion, strconv.Itoa(signedhttp.Version))
	h.Set(signedhttp.HeaderInjection, signedhttp.Injection{ID: injID.String(), Timestamp: 1000}.String())
	h.Set(signedhttp.HeaderBSigs, signedhttp.BSigs{KeyID: signedhttp.EncodeKeyID(pub), Algorithm: signedhttp.AlgorithmHS2019, Size: testBlockSize}.String())
	head := signedhttp.Head{Status: 200, Header: h}
	sig0 := signedhttp.SignHead(priv, signedhttp.EncodeKeyID(pub), head, 1000, signedhttp.SignedHeaders)
	head.Header.Set(signedhttp.HeaderSig0, sig0.String())

	w, err := s.Create(key, head)
	require.NoError(t, err)

	var idBytes [16]byte
	copy(idBytes[:], injID[:])
	bs := signedhttp.NewBlockSigner(priv, idBytes, testBlockSize)
	var prevChash []byte // CHASH[i-1]; empty for block 0
	for _, block := range blocks {
		_, chash, sig := bs.Sign(block)
		dhash := signedhttp.DataHash(block)
		require.NoError(t, w.WriteBlock(sig, dhash[:], prevChash, block))
		prevChash = append([]byte(nil), chash[:]...)
	}

	finalHead := head
	finalHead.Header = finalHead.Header.Clone()
	finalHead.Header.Set(signedhttp.HeaderDataSize, strconv.FormatUint(bs.DataSize(), 10))
	finalHead.Header.Set(signedhttp.HeaderDigest, bs.Digest())
	sig1 := signedhttp.SignHead(priv, signedhttp.EncodeKeyID(pub), finalHead, 2000, signedhttp.TrailerSignedHeaders)
	finalHead.Header.Set(signedhttp.HeaderSig1, sig1.String())
	require.NoError(t, w.Complete(finalHead))
	require.NoError(t, w.Close())

	entry, err := s.Open(key)
	require.NoError(t, err)
	return entry
}

func drainStream(t *testing.T, stream *Stream) ([]byte, signedhttp.Head, signedhttp.Head) {
	t.Helper()
	var body []byte
	var head, trailer signedhttp.Head
	for {
		part, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch part.Kind {
		case PartHead:
			head = part.Head
		case PartChunkBody:
			body = append(body, part.Data...)
		case PartTrailer:
			trailer = part.Trailer
		}
	}
	return body, head, trailer
}

func TestFetchAssemblesFromSinglePeer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	block0 := []byte("0123456789abcdef")
	block1 := []byte("ABCDEFGHIJKLMNOP")
	block2 := []byte("xy")
	wantBody := append(append(append([]byte{}, block0...), block1...), block2...)

	entry := buildTestEntry(t, t.TempDir(), priv, pub, "content-key", [][]byte{block0, block1, block2})

	r := NewReader(&signedhttp.Verifier{Pub: pub}, 0)
	stream, err := r.Fetch(context.Background(), "content-key", []Peer{&storePeer{name: "peer-a", entry: entry}})
	require.NoError(t, err)

	body, head, trailer := drainStream(t, stream)
	assert.Equal(t, wantBody, body)
	assert.Equal(t, 200, head.Status)
	assert.NotEmpty(t, trailer.Header.Get(signedhttp.HeaderSig1))
}

func TestFetchSkipsFailingPeers(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	block0 := []byte("0123456789abcdef")
	wantBody := block0

	entry := buildTestEntry(t, t.TempDir(), priv, pub, "content-key", [][]byte{block0})

	r := NewReader(&signedhttp.Verifier{Pub: pub}, 0)
	peers := []Peer{
		&failingPeer{name: "peer-bad-1"},
		&storePeer{name: "peer-good", entry: entry},
		&failingPeer{name: "peer-bad-2"},
	}
	stream, err := r.Fetch(context.Background(), "content-key", peers)
	require.NoError(t, err)

	body, _, _ := drainStream(t, stream)
	assert.Equal(t, wantBody, body)
}

func TestFetchFailsWhenNoPeerHasAVerifiableHead(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := NewReader(&signedhttp.Verifier{Pub: pub}, 0)
	_, err = r.Fetch(context.Background(), "content-key", []Peer{&failingPeer{name: "peer-bad"}})
	require.Error(t, err)
}

func TestBestPeersSkipsBlacklisted(t *testing.T) {
	a, b, c := &failingPeer{name: "a"}, &failingPeer{name: "b"}, &failingPeer{name: "c"}
	bl := newBlacklist()
	bl.mark(b)

	got := bestPeers([]Peer{a, b, c}, bl, 2)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, c, got[1])
}

func TestSwarmInfoHashMatchesBep5Swarms(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := NewReader(&signedhttp.Verifier{Pub: pub}, 0)
	want := bep5swarms.URI(pub, signedhttp.Version, "https://example.com/a")
	assert.Equal(t, want, r.SwarmInfoHash("https://example.com/a"))

	// varies by key, so distinct content maps to distinct swarms
	assert.NotEqual(t, r.SwarmInfoHash("https://example.com/a"), r.SwarmInfoHash("https://example.com/b"))
}
