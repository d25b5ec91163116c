package multipeer

import (
	"context"
	"io"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// Peer is one swarm member the reader can ask for a content key. Its
// methods return the raw signed wire bytes (chunked framing, ouisig/
// ouihash extensions, trailer) exactly as pkg/signedhttp's Signer
// would write them; the reader is responsible for verification.
type Peer interface {
	// FetchHead returns the signed head for key.
	FetchHead(ctx context.Context, key string) (signedhttp.Head, error)
	// FetchRange returns a self-contained 206 response (its own head,
	// restating the original status via X-Ouinet-HTTP-Status, and a
	// chunked body+trailer) covering [first, last] — the same shape
	// internal/store's Entry.RangeReader produces, so it can be
	// verified as a standalone unit without the outer fetch's head.
	FetchRange(ctx context.Context, key string, first, last int64) (signedhttp.Head, io.ReadCloser, error)
	// String identifies the peer for logging and for the blacklist.
	String() string
}

// PartKind discriminates the members of a Part's union.
type PartKind int

const (
	PartHead PartKind = iota
	PartChunkHeader
	PartChunkBody
	PartTrailer
)

// Part is one element of the reader's output stream, mirroring the
// {head, chunk_hdr, chunk_body, trailer} shape spec.md §4.7 describes.
type Part struct {
	Kind PartKind

	Head signedhttp.Head // PartHead

	ChunkExt string // PartChunkHeader: the ouisig/ouihash extension string

	// PartChunkBody: the verified block, plus the signature material
	// that verified it, so a caller assembling a local copy (e.g. via
	// internal/store's Writer) can persist it without recomputing
	// anything.
	Data  []byte
	DHash [64]byte
	CHash [64]byte
	Sig   []byte

	Trailer signedhttp.Head // PartTrailer: head with trailer fields merged in
}
