package signedhttp

import (
	"bufio"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
)

// Verifier checks sig0/sig1 and per-block signatures against a single
// known public key.
type Verifier struct {
	Pub ed25519.PublicKey
}

// VerifiedHead is the result of checking sig0 on a head, carrying the
// metadata VerifyBody needs to check the body that follows.
type VerifiedHead struct {
	Head        Head
	Injection   Injection
	InjectionID uuid.UUID
	BSigs       BSigs
	RangeMode   bool
	RangeFirst  int64
	RangeLast   int64
	RangeTotal  int64 // -1 when the total length is unknown ("*")
}

// VerifyHead validates sig0 on head (parsed, prior to reading any
// body), per spec.md §4.5 "Verifying reader" steps 1-3.
func (v *Verifier) VerifyHead(head Head) (VerifiedHead, error) {
	bsigsStr := head.Header.Get(HeaderBSigs)
	if bsigsStr == "" {
		return VerifiedHead{}, fmt.Errorf("signedhttp: missing %s", HeaderBSigs)
	}
	bsigs, err := ParseBSigs(bsigsStr)
	if err != nil {
		return VerifiedHead{}, err
	}

	injStr := head.Header.Get(HeaderInjection)
	if injStr == "" {
		return VerifiedHead{}, fmt.Errorf("signedhttp: missing %s", HeaderInjection)
	}
	inj, err := ParseInjection(injStr)
	if err != nil {
		return VerifiedHead{}, err
	}
	injID, err := uuid.Parse(inj.ID)
	if err != nil {
		return VerifiedHead{}, fmt.Errorf("signedhttp: bad injection id %q: %w", inj.ID, err)
	}

	sig0Str := head.Header.Get(HeaderSig0)
	if sig0Str == "" {
		return VerifiedHead{}, fmt.Errorf("signedhttp: missing %s", HeaderSig0)
	}
	sig0, err := ParseSignature(sig0Str)
	if err != nil {
		return VerifiedHead{}, err
	}

	result := VerifiedHead{Head: head, Injection: inj, InjectionID: injID, BSigs: bsigs, RangeTotal: -1}
	verifyHead := head

	if head.Status == http.StatusPartialContent {
		origStr := head.Header.Get(HeaderHTTPStatus)
		if origStr == "" {
			return VerifiedHead{}, fmt.Errorf("signedhttp: 206 response missing %s", HeaderHTTPStatus)
		}
		orig, err := strconv.Atoi(origStr)
		if err != nil {
			return VerifiedHead{}, fmt.Errorf("signedhttp: bad %s %q: %w", HeaderHTTPStatus, origStr, err)
		}
		verifyHead = cloneHead(head)
		verifyHead.Status = orig

		first, last, total, err := parseContentRange(head.Header.Get("Content-Range"))
		if err != nil {
			return VerifiedHead{}, err
		}
		if first%int64(bsigs.Size) != 0 {
			return VerifiedHead{}, fmt.Errorf("signedhttp: range start %d is not a multiple of block size %d", first, bsigs.Size)
		}
		result.RangeMode = true
		result.RangeFirst, result.RangeLast, result.RangeTotal = first, last, total
	}

	if err := VerifyHead(v.Pub, verifyHead, sig0); err != nil {
		return VerifiedHead{}, fmt.Errorf("%w: sig0: %v", ErrBadSignature, err)
	}
	return result, nil
}

func parseContentRange(s string) (first, last, total int64, err error) {
	s = strings.TrimPrefix(s, "bytes ")
	rangePart, totalPart, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("signedhttp: malformed Content-Range %q", s)
	}
	firstStr, lastStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("signedhttp: malformed Content-Range %q", s)
	}
	if first, err = strconv.ParseInt(firstStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("signedhttp: malformed Content-Range %q: %w", s, err)
	}
	if last, err = strconv.ParseInt(lastStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("signedhttp: malformed Content-Range %q: %w", s, err)
	}
	if totalPart == "*" {
		return first, last, -1, nil
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("signedhttp: malformed Content-Range %q: %w", s, err)
	}
	return first, last, total, nil
}

// Chunk is one parsed wire chunk.
type Chunk struct {
	Data []byte
	Sig  []byte
	Hash []byte
	Last bool
}

// ReadChunk reads and parses the next chunk from r (HTTP/1.1
// chunked-encoding framing per RFC 7230 §4.1, with ouinet's ouisig/
// ouihash extensions).
func ReadChunk(r *bufio.Reader) (Chunk, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Chunk{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	sizeStr, ext, _ := strings.Cut(line, ";")
	size, err := strconv.ParseInt(sizeStr, 16, 64)
	if err != nil {
		return Chunk{}, fmt.Errorf("signedhttp: malformed chunk size %q", sizeStr)
	}

	var sig, hash []byte
	if ext != "" {
		sig, hash, err = parseChunkExtension(ext)
		if err != nil {
			return Chunk{}, err
		}
	}

	if size == 0 {
		return Chunk{Sig: sig, Hash: hash, Last: true}, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Chunk{}, fmt.Errorf("signedhttp: reading chunk body: %w", err)
	}
	if err := readCRLF(r); err != nil {
		return Chunk{}, err
	}
	return Chunk{Data: data, Sig: sig, Hash: hash}, nil
}

func readCRLF(r *bufio.Reader) error {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if buf != [2]byte{'\r', '\n'} {
		return fmt.Errorf("signedhttp: expected CRLF after chunk data")
	}
	return nil
}

// ReadTrailer reads trailer header lines up to the blank line ending
// the chunked stream, merging them into head.Header.
func ReadTrailer(r *bufio.Reader, head *Head) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return nil
		}
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("signedhttp: malformed trailer line %q", line)
		}
		head.Header.Add(strings.TrimSpace(name), strings.TrimSpace(val))
	}
}

// VerifyBody reads the chunked body following vh from r, verifying
// each block's hash chain and per-block signature before handing its
// offset, bytes, and the DHASH/CHASH/SIG that verified it to onBlock
// — enough for a caller to persist the block via internal/store's
// Writer without recomputing anything — then checks sig1/Digest/
// X-Ouinet-Data-Size (or, for a range response, just the received
// length) once the trailer is read. It returns the completed head.
func (v *Verifier) VerifyBody(r *bufio.Reader, vh VerifiedHead, onBlock func(offset uint64, data []byte, dhash, chash [64]byte, sig []byte) error) (Head, error) {
	var idBytes [16]byte
	copy(idBytes[:], vh.InjectionID[:])

	offset := uint64(0)
	if vh.RangeMode {
		offset = uint64(vh.RangeFirst)
	}

	haveChain := !vh.RangeMode || vh.RangeFirst == 0 // reads from global block 0 start the chain at CHASH[-1] = empty
	var prevChash []byte

	var pendingData []byte
	pendingOffset := offset
	haveBlock := false

	digest := sha256.New()
	var total uint64

	verifyPending := func(sig, hashExt []byte) error {
		if !haveBlock {
			return nil
		}
		dhash := DataHash(pendingData)
		if !haveChain {
			if hashExt == nil {
				return fmt.Errorf("%w: first block of a range read carries no ouihash seed", ErrBrokenChain)
			}
			prevChash = hashExt
			haveChain = true
		}
		chash := ChainHash(prevChash, dhash)
		if sig == nil || !VerifyBlock(v.Pub, idBytes, pendingOffset, chash, sig) {
			return fmt.Errorf("%w: block at offset %d", ErrBadSignature, pendingOffset)
		}
		if err := onBlock(pendingOffset, pendingData, dhash, chash, sig); err != nil {
			return err
		}
		digest.Write(pendingData)
		total += uint64(len(pendingData))
		chashCopy := chash
		prevChash = chashCopy[:]
		return nil
	}

	for {
		chunk, err := ReadChunk(r)
		if err != nil {
			return Head{}, fmt.Errorf("signedhttp: reading chunk: %w", err)
		}
		if err := verifyPending(chunk.Sig, chunk.Hash); err != nil {
			return Head{}, err
		}
		if chunk.Last {
			break
		}
		pendingData = chunk.Data
		pendingOffset = offset
		offset += uint64(len(chunk.Data))
		haveBlock = true
	}

	head := vh.Head
	if err := ReadTrailer(r, &head); err != nil {
		return Head{}, fmt.Errorf("signedhttp: reading trailer: %w", err)
	}

	sig1Str := head.Header.Get(HeaderSig1)
	if sig1Str == "" {
		return Head{}, fmt.Errorf("signedhttp: trailer missing %s", HeaderSig1)
	}
	sig1, err := ParseSignature(sig1Str)
	if err != nil {
		return Head{}, err
	}

	verifyHead := head
	if vh.RangeMode {
		verifyHead = cloneHead(head)
		if origStr := head.Header.Get(HeaderHTTPStatus); origStr != "" {
			if orig, err := strconv.Atoi(origStr); err == nil {
				verifyHead.Status = orig
			}
		}
	}
	if err := VerifyHead(v.Pub, verifyHead, sig1); err != nil {
		return Head{}, fmt.Errorf("%w: sig1: %v", ErrBadSignature, err)
	}

	if vh.RangeMode {
		want := uint64(vh.RangeLast - vh.RangeFirst + 1)
		if total != want {
			return Head{}, fmt.Errorf("%w: range delivered %d bytes, want %d", ErrDataSizeMismatch, total, want)
		}
		return head, nil
	}

	dataSizeStr := head.Header.Get(HeaderDataSize)
	dataSize, err := strconv.ParseUint(dataSizeStr, 10, 64)
	if err != nil {
		return Head{}, fmt.Errorf("signedhttp: bad %s %q: %w", HeaderDataSize, dataSizeStr, err)
	}
	if dataSize != total {
		return Head{}, fmt.Errorf("%w: header says %d, received %d", ErrDataSizeMismatch, dataSize, total)
	}
	wantDigest := head.Header.Get(HeaderDigest)
	gotDigest := "SHA-256=" + base64.StdEncoding.EncodeToString(digest.Sum(nil))
	if wantDigest != gotDigest {
		return Head{}, fmt.Errorf("%w: header says %s, computed %s", ErrDigestMismatch, wantDigest, gotDigest)
	}
	return head, nil
}
