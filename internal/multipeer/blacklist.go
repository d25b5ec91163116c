package multipeer

import "github.com/spaolacci/murmur3"

// blacklist tracks peers that returned unverifiable bytes during one
// fetch, per spec.md §4.7 step 3: "a peer that returns unverifiable
// bytes is marked bad for this fetch and not retried." It is scoped
// to a single Fetch call and discarded afterward — a peer bad for one
// object may be perfectly fine for another. Peer identities are
// folded through murmur3 rather than kept as strings, since the set
// only ever needs membership, not the original value back.
type blacklist struct {
	bad map[uint64]struct{}
}

func newBlacklist() *blacklist {
	return &blacklist{bad: make(map[uint64]struct{})}
}

func (b *blacklist) mark(peer Peer) {
	b.bad[peerHash(peer)] = struct{}{}
}

func (b *blacklist) isBad(peer Peer) bool {
	_, bad := b.bad[peerHash(peer)]
	return bad
}

func peerHash(peer Peer) uint64 {
	return murmur3.Sum64([]byte(peer.String()))
}
