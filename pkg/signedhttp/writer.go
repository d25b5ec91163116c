package signedhttp

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

// Signer produces ouinet's signed, chunked wire representation of an
// injected HTTP response: it stamps the injection headers and sig0 on
// the head, then streams the body as one chunk per block, each
// carrying the previous block's signature as a chunk extension, per
// spec.md §4.5's "Signing reader".
type Signer struct {
	Priv      ed25519.PrivateKey
	URI       string
	BlockSize int // 0 means DefaultBlockSize
	Clock     clock.Clock
}

func (s *Signer) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

func (s *Signer) blockSize() int {
	if s.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return s.BlockSize
}

func cloneHead(head Head) Head {
	h2 := make(http.Header, len(head.Header))
	for k, vs := range head.Header {
		h2[k] = append([]string(nil), vs...)
	}
	return Head{Status: head.Status, Header: h2}
}

// PrepareHead stamps head with X-Ouinet-Version/URI/Injection/BSigs
// and sig0, returning the new head (head.Header is cloned, the
// caller's copy is untouched) and the injection id bound to every
// subsequent block signature.
func (s *Signer) PrepareHead(head Head, created int64) (Head, uuid.UUID, error) {
	if s.URI != "" && !httpguts.ValidHeaderFieldValue(s.URI) {
		return Head{}, uuid.Nil, fmt.Errorf("signedhttp: URI is not a valid header field value: %q", s.URI)
	}

	h := cloneHead(head)
	id := uuid.New()
	keyID := EncodeKeyID(s.Priv.Public().(ed25519.PublicKey))

	h.Header.Set(HeaderVersion, strconv.Itoa(Version))
	if s.URI != "" {
		h.Header.Set(HeaderURI, s.URI)
	}
	h.Header.Set(HeaderInjection, Injection{ID: id.String(), Timestamp: created}.String())
	h.Header.Set(HeaderBSigs, BSigs{KeyID: keyID, Algorithm: AlgorithmHS2019, Size: s.blockSize()}.String())

	sig0 := SignHead(s.Priv, keyID, h, created, SignedHeaders)
	h.Header.Set(HeaderSig0, sig0.String())

	return h, id, nil
}

// WriteBody streams body to w as the chunked, block-signed wire form
// and returns the completed head with trailer fields (X-Ouinet-Data-Size,
// Digest, sig1) merged in, ready to persist or re-emit.
func (s *Signer) WriteBody(w io.Writer, head Head, injectionID uuid.UUID, body io.Reader) (Head, error) {
	var idBytes [16]byte
	copy(idBytes[:], injectionID[:])

	blockSize := s.blockSize()
	bs := NewBlockSigner(s.Priv, idBytes, blockSize)
	buf := make([]byte, blockSize)

	var pendingExt string
	var prevChash []byte // CHASH of the block whose signature is queued in pendingExt

	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			block := buf[:n]
			if err := writeChunk(w, block, pendingExt); err != nil {
				return Head{}, err
			}
			_, chash, sig := bs.Sign(block)
			pendingExt = chunkExtension(sig, prevChash)
			chashCopy := chash
			prevChash = chashCopy[:]
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return Head{}, fmt.Errorf("signedhttp: reading body: %w", rerr)
		}
	}

	if err := writeChunk(w, nil, pendingExt); err != nil {
		return Head{}, err
	}

	finalHead := cloneHead(head)
	finalHead.Header.Set(HeaderDataSize, strconv.FormatUint(bs.DataSize(), 10))
	finalHead.Header.Set(HeaderDigest, bs.Digest())

	keyID := EncodeKeyID(s.Priv.Public().(ed25519.PublicKey))
	sig1 := SignHead(s.Priv, keyID, finalHead, s.now().Unix(), TrailerSignedHeaders)
	finalHead.Header.Set(HeaderSig1, sig1.String())

	if err := writeTrailer(w, finalHead); err != nil {
		return Head{}, err
	}
	return finalHead, nil
}

// EncodeChunkExtension is the exported form of the signer's chunk
// extension builder, for callers that already hold precomputed
// per-block signatures and chain hashes (e.g. internal/store's range
// reader replaying a stored entry) rather than computing them live.
func EncodeChunkExtension(sig, hash []byte) string { return chunkExtension(sig, hash) }

// WriteChunk writes one HTTP/1.1 chunked-encoding chunk, data plus
// ouinet's ouisig/ouihash extensions, to w. data == nil writes the
// zero-length terminating chunk.
func WriteChunk(w io.Writer, data []byte, ext string) error { return writeChunk(w, data, ext) }

// WriteTrailer writes head's trailer-eligible fields
// (X-Ouinet-Data-Size, Digest, X-Ouinet-Sig1) followed by the blank
// line that ends a chunked stream.
func WriteTrailer(w io.Writer, head Head) error { return writeTrailer(w, head) }

func writeChunk(w io.Writer, data []byte, ext string) error {
	if _, err := io.WriteString(w, strconv.FormatInt(int64(len(data)), 16)+ext+"\r\n"); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func writeTrailer(w io.Writer, head Head) error {
	for _, name := range []string{HeaderDataSize, HeaderDigest, HeaderSig1} {
		v := head.Header.Get(name)
		if v == "" {
			continue
		}
		if _, err := io.WriteString(w, name+": "+v+"\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
