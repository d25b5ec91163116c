package signedhttp

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHead(ts int64, injID uuid.UUID, blockSize int, pub ed25519.PublicKey) Head {
	h := http.Header{}
	h.Set("Date", "Wed, 17 Jan 2018 00:00:00 GMT")
	h.Set("Content-Type", "text/plain")
	h.Set(HeaderVersion, strconv.Itoa(Version))
	h.Set(HeaderURI, "http://example.com/")
	h.Set(HeaderInjection, Injection{ID: injID.String(), Timestamp: ts}.String())
	h.Set(HeaderBSigs, BSigs{KeyID: EncodeKeyID(pub), Algorithm: AlgorithmHS2019, Size: blockSize}.String())
	return Head{Status: 200, Header: h}
}

func threeBlockBody(t *testing.T) (block0, block1, block2, body []byte) {
	t.Helper()
	block0 = append(append([]byte("0123"), bytes.Repeat([]byte("x"), 65528)...), []byte("4567")...)
	block1 = append(append([]byte("89AB"), bytes.Repeat([]byte("x"), 65528)...), []byte("CDEF")...)
	block2 = []byte("abcd")
	require.Len(t, block0, DefaultBlockSize)
	require.Len(t, block1, DefaultBlockSize)
	body = append(append(append([]byte{}, block0...), block1...), block2...)
	require.Len(t, body, 131076)
	return block0, block1, block2, body
}

// TestSignWriteVerifyRoundTrip_ThreeBlocks exercises spec.md §8 scenario
// 1: a three-block response, fixed injection id and timestamp, whose
// digest and data size are pinned to the scenario's expected values.
func TestSignWriteVerifyRoundTrip_ThreeBlocks(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	injID := uuid.MustParse("d6076384-2295-462b-a047-fe2c9274e58d")
	const ts = int64(1516048310)

	head := buildHead(ts, injID, DefaultBlockSize, pub)
	keyID := EncodeKeyID(pub)
	sig0 := SignHead(priv, keyID, head, ts, SignedHeaders)
	head.Header.Set(HeaderSig0, sig0.String())

	_, _, _, body := threeBlockBody(t)

	s := &Signer{Priv: priv, BlockSize: DefaultBlockSize}
	var wire bytes.Buffer
	finalHead, err := s.WriteBody(&wire, head, injID, bytes.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "131076", finalHead.Header.Get(HeaderDataSize))
	assert.Equal(t, "SHA-256=E4RswXyAONCaILm5T/ZezbHI87EKvKIdxURKxiVHwKE=", finalHead.Header.Get(HeaderDigest))

	wireStr := wire.String()
	assert.Equal(t, 3, strings.Count(wireStr, ChunkExtSig+"="), "expected exactly 3 ouisig extensions")
	assert.Equal(t, 2, strings.Count(wireStr, ChunkExtHash+"="), "ouihash starts from the second block")

	v := &Verifier{Pub: pub}
	vh, err := v.VerifyHead(head)
	require.NoError(t, err)
	assert.Equal(t, injID, vh.InjectionID)
	assert.False(t, vh.RangeMode)

	var got []byte
	r := bufio.NewReader(&wire)
	completedHead, err := v.VerifyBody(r, vh, func(offset uint64, data []byte, dhash, chash [64]byte, sig []byte) error {
		got = append(got, data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, finalHead.Header.Get(HeaderSig1), completedHead.Header.Get(HeaderSig1))
	assert.Equal(t, finalHead.Header.Get(HeaderDigest), completedHead.Header.Get(HeaderDigest))
}

// TestVerifyBodyRejectsTamperedBlock covers the invariant that any
// block whose ouisig does not verify aborts the stream before the
// tampered bytes reach the caller.
func TestVerifyBodyRejectsTamperedBlock(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	injID := uuid.New()
	const ts = int64(1000)
	const blockSize = 16

	head := buildHead(ts, injID, blockSize, pub)
	keyID := EncodeKeyID(pub)
	sig0 := SignHead(priv, keyID, head, ts, SignedHeaders)
	head.Header.Set(HeaderSig0, sig0.String())

	body := bytes.Repeat([]byte("a"), blockSize*3)

	s := &Signer{Priv: priv, BlockSize: blockSize}
	var wire bytes.Buffer
	_, err = s.WriteBody(&wire, head, injID, bytes.NewReader(body))
	require.NoError(t, err)

	tampered := bytes.Replace(wire.Bytes(), []byte("aaaaaaaaaaaaaaaa"), []byte("AAAAAAAAAAAAAAAA"), 1)
	require.NotEqual(t, wire.Bytes(), tampered)

	v := &Verifier{Pub: pub}
	vh, err := v.VerifyHead(head)
	require.NoError(t, err)

	r := bufio.NewReader(bytes.NewReader(tampered))
	_, err = v.VerifyBody(r, vh, func(offset uint64, data []byte, dhash, chash [64]byte, sig []byte) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestBSigsRoundTrip(t *testing.T) {
	b := BSigs{KeyID: "ed25519=AAAA", Algorithm: AlgorithmHS2019, Size: 65536}
	got, err := ParseBSigs(b.String())
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestParseBSigsRejectsOversizedBlock(t *testing.T) {
	_, err := ParseBSigs(`keyId="ed25519=AAAA",algorithm="hs2019",size=99999999`)
	require.Error(t, err)
}

func TestSignatureRoundTrip(t *testing.T) {
	sig := Signature{
		KeyID:     "ed25519=AAAA",
		Algorithm: AlgorithmHS2019,
		Created:   1516048310,
		Headers:   []string{"(response-status)", "(created)", "date"},
		Signature: bytes.Repeat([]byte{0xAB}, ed25519.SignatureSize),
	}
	got, err := ParseSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestKeyIDRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	got, err := DecodeKeyID(EncodeKeyID(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestSignHeadVerifyHeadRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	head := Head{Status: 200, Header: http.Header{
		"Date":         {"Wed, 17 Jan 2018 00:00:00 GMT"},
		"Content-Type": {"text/plain"},
	}}
	sig := SignHead(priv, EncodeKeyID(pub), head, 1516048310, SignedHeaders)
	require.NoError(t, VerifyHead(pub, head, sig))

	head.Header.Set("Content-Type", "text/html")
	require.Error(t, VerifyHead(pub, head, sig))
}

func TestParseChunkExtensionRoundTrip(t *testing.T) {
	sig := bytes.Repeat([]byte{1}, ed25519.SignatureSize)
	hash := bytes.Repeat([]byte{2}, 64)

	ext := chunkExtension(sig, hash)
	gotSig, gotHash, err := parseChunkExtension(ext)
	require.NoError(t, err)
	assert.Equal(t, sig, gotSig)
	assert.Equal(t, hash, gotHash)

	ext = chunkExtension(sig, nil)
	gotSig, gotHash, err = parseChunkExtension(ext)
	require.NoError(t, err)
	assert.Equal(t, sig, gotSig)
	assert.Nil(t, gotHash)
}

func TestParseContentRange(t *testing.T) {
	first, last, total, err := parseContentRange("bytes 65536-131075/131076")
	require.NoError(t, err)
	assert.Equal(t, int64(65536), first)
	assert.Equal(t, int64(131075), last)
	assert.Equal(t, int64(131076), total)

	_, _, total, err = parseContentRange("bytes 0-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)
}
