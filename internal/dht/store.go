package dht

import (
	"crypto/ed25519"
	"crypto/sha1"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dem31/ouinet/internal/dhterr"
	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

// errCASMismatch and errSeqRegression distinguish the two BEP-44 rejection
// reasons so handlers.go can map them to error codes 301 and 302
// respectively; both are wrapped in a dhterr.InvalidArgument.
var (
	errCASMismatch    = errors.New("cas mismatch")
	errSeqRegression  = errors.New("sequence number regression")
)

// ============================================================================
//                              常量
// ============================================================================

const (
	// MaxItemValueSize bounds a bencoded immutable or mutable value.
	MaxItemValueSize = 1000

	// MaxSaltSize bounds a mutable item's salt.
	MaxSaltSize = 64

	// PeerTTL is how long an announced peer record is retained without a
	// refreshing announce_peer.
	PeerTTL = 30 * time.Minute
)

// ============================================================================
//                              Peer 存储 (tracker_* / get_peers / announce_peer)
// ============================================================================

type peerRecord struct {
	endpoint types.Endpoint
	seenAt   time.Time
}

// peerStore holds, per info-hash, the set of peers that announced for it.
type peerStore struct {
	mu    sync.Mutex
	clock clock.Clock
	byKey map[types.ID]map[string]*peerRecord
}

func newPeerStore(clk clock.Clock) *peerStore {
	if clk == nil {
		clk = clock.New()
	}
	return &peerStore{clock: clk, byKey: make(map[types.ID]map[string]*peerRecord)}
}

// Announce records peer as serving infoHash.
func (s *peerStore) Announce(infoHash types.ID, peer types.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byKey[infoHash]
	if !ok {
		bucket = make(map[string]*peerRecord)
		s.byKey[infoHash] = bucket
	}
	bucket[peer.String()] = &peerRecord{endpoint: peer, seenAt: s.clock.Now()}
}

// GetPeers returns up to max live peers for infoHash, oldest records
// beyond PeerTTL excluded.
func (s *peerStore) GetPeers(infoHash types.ID, max int) []types.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byKey[infoHash]
	if !ok {
		return nil
	}
	cutoff := s.clock.Now().Add(-PeerTTL)
	var out []types.Endpoint
	for key, rec := range bucket {
		if rec.seenAt.Before(cutoff) {
			delete(bucket, key)
			continue
		}
		out = append(out, rec.endpoint)
		if len(out) >= max {
			break
		}
	}
	return out
}

// ============================================================================
//                              BEP-44 数据项存储 (get / put)
// ============================================================================

// immutableItem is a stored immutable value keyed by SHA-1(bencode(value)).
type immutableItem struct {
	value []byte // raw bencoded value
}

// mutableItem is a stored (pk, salt)-keyed signed value, per BEP-44.
type mutableItem struct {
	publicKey ed25519.PublicKey
	salt      []byte
	value     []byte // raw bencoded value
	seq       int64
	signature []byte
}

// itemStore implements the BEP-44 get/put value store: immutable items
// keyed by content hash, mutable items keyed by (public key, salt) with
// monotonic-seq and optional CAS semantics.
type itemStore struct {
	mu        sync.RWMutex
	immutable map[types.ID]*immutableItem
	mutable   map[types.ID]*mutableItem
}

func newItemStore() *itemStore {
	return &itemStore{
		immutable: make(map[types.ID]*immutableItem),
		mutable:   make(map[types.ID]*mutableItem),
	}
}

// ImmutableKey computes SHA-1(bencode-encoded value).
func ImmutableKey(bencodedValue []byte) types.ID {
	sum := sha1.Sum(bencodedValue)
	id, _ := types.IDFromBytes(sum[:])
	return id
}

// MutableKey computes SHA-1(public_key || salt).
func MutableKey(pk ed25519.PublicKey, salt []byte) types.ID {
	h := sha1.New()
	h.Write(pk)
	h.Write(salt)
	sum := h.Sum(nil)
	id, _ := types.IDFromBytes(sum)
	return id
}

func (s *itemStore) GetImmutable(key types.ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.immutable[key]
	if !ok {
		return nil, false
	}
	return item.value, true
}

// PutImmutable stores value (already validated for size by the caller).
func (s *itemStore) PutImmutable(key types.ID, bencodedValue []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.immutable[key] = &immutableItem{value: bencodedValue}
}

// GetMutable returns the stored mutable item for key, if any.
func (s *itemStore) GetMutable(key types.ID) (*mutableItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.mutable[key]
	return item, ok
}

// mutableSignedBody builds the bencoded {"salt": salt?, "seq": seq, "v": v}
// dict the Ed25519 signature covers, per spec.md §3 "Mutable data item".
func mutableSignedBody(salt []byte, seq int64, value []byte) ([]byte, error) {
	kvs := []bencode.KV{{Key: "seq", Value: seq}}
	if len(salt) > 0 {
		kvs = append(kvs, bencode.KV{Key: "salt", Value: salt})
	}
	v, _, err := bencode.Decode(value)
	if err != nil {
		return nil, err
	}
	kvs = append(kvs, bencode.KV{Key: "v", Value: v})
	return bencode.Encode(bencode.NewDict(kvs...))
}

// VerifyMutableSignature checks the Ed25519 signature over the canonical
// (salt, seq, v) body.
func VerifyMutableSignature(pk ed25519.PublicKey, salt []byte, seq int64, value, sig []byte) bool {
	body, err := mutableSignedBody(salt, seq, value)
	if err != nil {
		return false
	}
	return ed25519.Verify(pk, body, sig)
}

// PutMutable applies the BEP-44 CAS/seq-ordering rules and stores item on
// success. cas is the claimed prior seq; nil means "no CAS requested".
func (s *itemStore) PutMutable(key types.ID, item *mutableItem, cas *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mutable[key]
	if !ok {
		s.mutable[key] = item
		return nil
	}

	if cas != nil && *cas != existing.seq {
		return dhterr.New(dhterr.InvalidArgument, "put_mutable", errCASMismatch)
	}
	if item.seq < existing.seq {
		return dhterr.New(dhterr.InvalidArgument, "put_mutable", errSeqRegression)
	}
	if item.seq == existing.seq && string(item.value) != string(existing.value) {
		return dhterr.New(dhterr.InvalidArgument, "put_mutable", errSeqRegression)
	}

	s.mutable[key] = item
	return nil
}
