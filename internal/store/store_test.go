package store

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

const testBlockSize = 16

// writeEntry signs blocks one at a time with a fresh BlockSigner and
// feeds them through a Writer, returning the signer so the caller can
// keep appending or call finalHead() to get trailer values.
func writeEntry(t *testing.T, s *Store, key string, priv ed25519.PrivateKey, pub ed25519.PublicKey, blocks [][]byte) (*Writer, *signedhttp.BlockSigner, signedhttp.Head, uuid.UUID) {
	t.Helper()

	injID := uuid.New()
	var idBytes [16]byte
	copy(idBytes[:], injID[:])

	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	h.Set(signedhttp.HeaderVersion, strconv.Itoa(signedhttp.Version))
	h.Set(signedhttp.HeaderInjection, signedhttp.Injection{ID: injID.String(), Timestamp: 1000}.String())
	h.Set(signedhttp.HeaderBSigs, signedhttp.BSigs{KeyID: signedhttp.EncodeKeyID(pub), Algorithm: signedhttp.AlgorithmHS2019, Size: testBlockSize}.String())
	head := signedhttp.Head{Status: 200, Header: h}

	sig0 := signedhttp.SignHead(priv, signedhttp.EncodeKeyID(pub), head, 1000, signedhttp.SignedHeaders)
	head.Header.Set(signedhttp.HeaderSig0, sig0.String())

	w, err := s.Create(key, head)
	require.NoError(t, err)

	bs := signedhttp.NewBlockSigner(priv, idBytes, testBlockSize)
	var prevChash []byte // CHASH[i-1]; empty for block 0
	for _, block := range blocks {
		_, chash, sig := bs.Sign(block)
		dhash := signedhttp.DataHash(block)
		require.NoError(t, w.WriteBlock(sig, dhash[:], prevChash, block))
		prevChash = append([]byte(nil), chash[:]...)
	}

	return w, bs, head, injID
}

func TestWriterEntryIncompleteThenRangeRead(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := New(t.TempDir())
	block0 := bytes.Repeat([]byte("a"), testBlockSize)
	block1 := bytes.Repeat([]byte("b"), testBlockSize)

	w, _, _, _ := writeEntry(t, s, "http://example.com/x", priv, pub, [][]byte{block0, block1})
	require.NoError(t, w.Close()) // no Complete: entry stays incomplete

	entry, err := s.Open("http://example.com/x")
	require.NoError(t, err)

	head, body, err := entry.WholeReader()
	require.NoError(t, err)
	assert.False(t, isComplete(head))

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	// no trailer is written for an incomplete entry, so the stream is
	// just the two chunks plus the terminal zero-length chunk.
	assert.Contains(t, string(got), string(block0))
	assert.Contains(t, string(got), string(block1))

	_, rbody, err := entry.RangeReader(0, int64(testBlockSize)-1)
	require.NoError(t, err)
	rgot, err := io.ReadAll(rbody)
	require.NoError(t, err)
	assert.Contains(t, string(rgot), string(block0))

	_, _, err = entry.RangeReader(0, 42_000_000)
	require.ErrorIs(t, err, signedhttp.ErrInvalidSeek)
}

func TestWriterEntryCompleteRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := New(t.TempDir())
	block0 := bytes.Repeat([]byte("a"), testBlockSize)
	block1 := bytes.Repeat([]byte("b"), testBlockSize)
	block2 := []byte("cd")
	body := append(append(append([]byte{}, block0...), block1...), block2...)

	w, bs, head, _ := writeEntry(t, s, "http://example.com/y", priv, pub, [][]byte{block0, block1, block2})

	finalHead := head
	finalHead.Header = finalHead.Header.Clone()
	finalHead.Header.Set(signedhttp.HeaderDataSize, strconv.FormatUint(bs.DataSize(), 10))
	finalHead.Header.Set(signedhttp.HeaderDigest, bs.Digest())
	sig1 := signedhttp.SignHead(priv, signedhttp.EncodeKeyID(pub), finalHead, 2000, signedhttp.TrailerSignedHeaders)
	finalHead.Header.Set(signedhttp.HeaderSig1, sig1.String())

	require.NoError(t, w.Complete(finalHead))
	require.NoError(t, w.Close())

	entry, err := s.Open("http://example.com/y")
	require.NoError(t, err)

	storedHead, stream, err := entry.WholeReader()
	require.NoError(t, err)
	require.True(t, isComplete(storedHead))

	v := &signedhttp.Verifier{Pub: pub}
	vh, err := v.VerifyHead(storedHead)
	require.NoError(t, err)

	var got []byte
	r := bufio.NewReader(stream)
	_, err = v.VerifyBody(r, vh, func(offset uint64, data []byte, dhash, chash [64]byte, sig []byte) error {
		got = append(got, data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestHeadOnlyReaderReportsAvailData(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := New(t.TempDir())
	block0 := bytes.Repeat([]byte("a"), testBlockSize)

	w, _, _, _ := writeEntry(t, s, "http://example.com/z", priv, pub, [][]byte{block0})
	require.NoError(t, w.Close())

	entry, err := s.Open("http://example.com/z")
	require.NoError(t, err)

	head, err := entry.HeadOnlyReader()
	require.NoError(t, err)
	assert.Equal(t, "bytes 0-15/*", head.Header.Get(signedhttp.HeaderAvailData))
}

func TestForEachDeletesOnFalse(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := New(t.TempDir())
	w, _, _, _ := writeEntry(t, s, "http://example.com/gone", priv, pub, [][]byte{bytes.Repeat([]byte("a"), testBlockSize)})
	require.NoError(t, w.Close())

	visited := 0
	err = s.ForEach(func(e *Entry) bool {
		visited++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)

	_, err = s.Open("http://example.com/gone")
	assert.ErrorIs(t, err, ErrNotFound)
}
