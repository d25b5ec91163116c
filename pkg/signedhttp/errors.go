package signedhttp

import "errors"

// ============================================================================
//                              错误哨兵
// ============================================================================

var (
	// ErrBadSignature covers any sig0/sig1/block signature that fails
	// to verify.
	ErrBadSignature = errors.New("signedhttp: bad signature")
	// ErrBrokenChain means a block's DHASH/CHASH did not match what
	// its signature or the next chunk's ouihash extension claimed.
	ErrBrokenChain = errors.New("signedhttp: broken block hash chain")
	// ErrInvalidSeek is returned by a range reader asked for bytes
	// outside the entry's available blocks.
	ErrInvalidSeek = errors.New("signedhttp: invalid seek")
	// ErrDigestMismatch means the reassembled body's SHA-256 did not
	// match the trailer's Digest header.
	ErrDigestMismatch = errors.New("signedhttp: digest mismatch")
	// ErrDataSizeMismatch means the trailer's X-Ouinet-Data-Size did
	// not match the number of body bytes actually received.
	ErrDataSizeMismatch = errors.New("signedhttp: data size mismatch")
)
