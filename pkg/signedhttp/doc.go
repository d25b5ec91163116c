// Package signedhttp implements ouinet's signed HTTP response format: a
// frozen, Ed25519-signed head and a body split into fixed-size blocks
// chained by hash and individually signed, so that a response can be
// delivered piecewise by untrusted peers and still verified block by
// block (spec §4.5).
//
// A Signer wraps an outgoing http.Response-shaped head and body,
// stamping the X-Ouinet-* injection headers and streaming chunked
// output with ouisig/ouihash chunk extensions. A Verifier does the
// inverse: it consumes that chunked stream, verifying sig0 against the
// head, each block's hash chain and signature as it arrives, and sig1
// against the completed trailer.
package signedhttp
