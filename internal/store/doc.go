// Package store persists injected responses on disk as the three
// files described by spec.md §3: head, body, and sigs, keyed by the
// canonical URI under HEX(SHA-1(key))[0:2]/HEX(SHA-1(key))[2:].
//
// A Writer appends verified blocks to body and sigs as they arrive,
// fsyncing each append, so a crash mid-injection leaves a readable
// but incomplete entry rather than a torn one (spec.md §4.6, §8
// scenario 2). Only the head file — the one place a half-written
// file would actually corrupt a reader's view, since its trailer
// fields (X-Ouinet-Data-Size, Digest, X-Ouinet-Sig1) must appear
// together or not at all — is swapped in with the write-temp-fsync-
// rename sequence, both when it is first created and again when
// Complete merges in the trailer once the whole body has landed.
//
// Entry exposes three read paths mirroring pkg/signedhttp's wire
// format: WholeReader replays the stored blocks as a fresh chunked,
// block-signed stream; RangeReader does the same for a block-aligned
// byte range, stamping a 206 head; HeadOnlyReader reports how much of
// the entry is present via X-Ouinet-Avail-Data without touching the
// body at all.
package store
