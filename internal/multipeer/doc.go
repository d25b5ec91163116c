// Package multipeer implements spec.md §4.7's multi-peer reader: given
// a content key and a set of peer endpoints discovered via the DHT's
// tracker_get_peers, it fetches the signed head from whichever peer
// answers first, then races the best P peers for each successive
// block, accepting whichever response verifies first and blacklisting
// any peer that returns bytes that don't.
//
// The reader exposes the fetch as a linear sequence of Parts — head,
// then one (chunk header, chunk body) pair per verified block, then a
// trailer — so a caller sees the same shape pkg/signedhttp's Signer
// produces, regardless of how many peers and races it took to
// assemble it.
package multipeer
