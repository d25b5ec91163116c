package dht

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dem31/ouinet/internal/dhterr"
	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              ProximityMap
// ============================================================================

// proximityEntry is one candidate accumulated by a collect run, together
// with the token its get_peers/get reply carried (nil for find_node-only
// lookups), needed by the write step that follows.
type proximityEntry struct {
	contact types.Contact
	token   []byte
}

// proximityMap accumulates the K responsible nodes discovered during one
// collect run, ordered by XOR distance to the lookup target, per spec.md
// §4.4 "High-level operations".
type proximityMap struct {
	mu     sync.Mutex
	target types.ID
	k      int
	byID   map[types.ID]*proximityEntry
}

func newProximityMap(target types.ID, k int) *proximityMap {
	return &proximityMap{target: target, k: k, byID: make(map[types.ID]*proximityEntry)}
}

func (p *proximityMap) Add(contact types.Contact, token []byte) {
	if !contact.HasID() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[*contact.ID] = &proximityEntry{contact: contact, token: token}
}

// Best returns up to K entries ordered by ascending XOR distance to the
// lookup target.
func (p *proximityMap) Best() []*proximityEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*proximityEntry, 0, len(p.byID))
	for _, e := range p.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].contact.ID.Xor(p.target).Less(out[j].contact.ID.Xor(p.target))
	})
	if len(out) > p.k {
		out = out[:p.k]
	}
	return out
}

// writeResponsible issues the write step (announce_peer or put) to each
// of the responsible nodes best in parallel, retrying each up to
// WriteRetries times, and aggregates the last error of every candidate
// that never succeeded with multierr so a caller can inspect what each
// failing candidate said.
// The operation as a whole succeeds if any write succeeded.
func writeResponsible(ctx context.Context, best []*proximityEntry, write func(ctx context.Context, e *proximityEntry) error) (succeeded int, err error) {
	var (
		mu      sync.Mutex
		errs    error
		anyOK   bool
		wg      sync.WaitGroup
	)
	for _, e := range best {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastErr error
			for attempt := 0; attempt < WriteRetries; attempt++ {
				lastErr = write(ctx, e)
				if lastErr == nil {
					mu.Lock()
					anyOK = true
					succeeded++
					mu.Unlock()
					return
				}
				if dhterr.KindIs(lastErr, dhterr.Aborted) {
					break
				}
			}
			mu.Lock()
			errs = multierr.Append(errs, lastErr)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !anyOK {
		if ctx.Err() != nil {
			return 0, dhterr.New(dhterr.Aborted, "write_responsible", ctx.Err())
		}
		return 0, dhterr.New(dhterr.NetworkUnreachable, "write_responsible", errs)
	}
	return succeeded, nil
}

// ============================================================================
//                              tracker_get_peers / tracker_announce
// ============================================================================

// TrackerGetPeers runs an iterative get_peers lookup for infoHash and
// returns the union of peers reported by every node visited, plus the
// ProximityMap entries (for a later TrackerAnnounce).
func TrackerGetPeers(ctx context.Context, n *Node, infoHash types.ID) ([]types.Endpoint, *proximityMap, error) {
	pm := newProximityMap(infoHash, K)
	var (
		mu    sync.Mutex
		peers []types.Endpoint
		seen  = make(map[string]bool)
	)

	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		args := bencode.NewDict(bencode.KV{Key: "info_hash", Value: infoHash.Bytes()})
		result, err := n.query(ctx, candidate.Addr, "get_peers", args)
		if err != nil {
			return
		}
		if token, ok := result.GetBytes("token"); ok {
			pm.Add(types.Contact{ID: candidate.ID, Addr: candidate.Addr}, token)
		}
		if contacts, err := decodeNodeLists(result); err == nil {
			for _, c := range contacts {
				learned.Push(c)
			}
		}
		if values, ok := result.GetList("values"); ok {
			mu.Lock()
			for _, v := range values {
				raw, ok := v.([]byte)
				if !ok {
					continue
				}
				ep, err := bencode.DecodeCompactPeer(raw)
				if err != nil {
					continue
				}
				if !seen[ep.String()] {
					seen[ep.String()] = true
					peers = append(peers, ep)
				}
			}
			mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, LookupWatchdog)
	defer cancel()
	if err := collect(ctx, n.routingTable, infoHash, evaluate); err != nil {
		return nil, nil, dhterr.New(dhterr.Aborted, "tracker_get_peers", err)
	}
	return peers, pm, nil
}

// TrackerAnnounce runs TrackerGetPeers to discover the responsible nodes
// for infoHash, then announces (infoHash, port) to each of them in
// parallel.
func TrackerAnnounce(ctx context.Context, n *Node, infoHash types.ID, port uint16) (int, error) {
	_, pm, err := TrackerGetPeers(ctx, n, infoHash)
	if err != nil {
		return 0, err
	}
	best := pm.Best()
	if len(best) == 0 {
		return 0, dhterr.New(dhterr.NetworkUnreachable, "tracker_announce", nil)
	}

	write := func(ctx context.Context, e *proximityEntry) error {
		args := bencode.NewDict(
			bencode.KV{Key: "info_hash", Value: infoHash.Bytes()},
			bencode.KV{Key: "port", Value: int64(port)},
			bencode.KV{Key: "token", Value: e.token},
		)
		_, err := n.query(ctx, e.contact.Addr, "announce_peer", args)
		return err
	}
	return writeResponsible(ctx, best, write)
}

// ============================================================================
//                              immutable_get / immutable_put
// ============================================================================

// ImmutableGet runs an iterative get lookup for key and returns the first
// valid value whose SHA-1 matches key, per spec.md §3 "Immutable data
// item".
func ImmutableGet(ctx context.Context, n *Node, key types.ID) ([]byte, error) {
	var (
		mu    sync.Mutex
		found []byte
	)
	pm := newProximityMap(key, K)

	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		args := bencode.NewDict(bencode.KV{Key: "target", Value: key.Bytes()})
		result, err := n.query(ctx, candidate.Addr, "get", args)
		if err != nil {
			return
		}
		if token, ok := result.GetBytes("token"); ok {
			pm.Add(types.Contact{ID: candidate.ID, Addr: candidate.Addr}, token)
		}
		if contacts, err := decodeNodeLists(result); err == nil {
			for _, c := range contacts {
				learned.Push(c)
			}
		}
		if v, ok := result.Get("v"); ok {
			encoded, err := bencode.Encode(v)
			if err != nil {
				return
			}
			if ImmutableKey(encoded) != key {
				return
			}
			mu.Lock()
			if found == nil {
				found = encoded
			}
			mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, LookupWatchdog)
	defer cancel()
	if err := collect(ctx, n.routingTable, key, evaluate); err != nil {
		return nil, dhterr.New(dhterr.Aborted, "immutable_get", err)
	}
	if found == nil {
		return nil, dhterr.New(dhterr.NotFound, "immutable_get", nil)
	}
	return found, nil
}

// ImmutablePut stores bencodedValue (≤ MaxItemValueSize) under its
// SHA-1 key at the nodes responsible for that key.
func ImmutablePut(ctx context.Context, n *Node, bencodedValue []byte) (types.ID, int, error) {
	if len(bencodedValue) > MaxItemValueSize {
		return types.ZeroID, 0, dhterr.New(dhterr.InvalidArgument, "immutable_put", nil)
	}
	key := ImmutableKey(bencodedValue)

	v, _, err := bencode.Decode(bencodedValue)
	if err != nil {
		return types.ZeroID, 0, dhterr.New(dhterr.InvalidArgument, "immutable_put", err)
	}

	pm := newProximityMap(key, K)
	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		args := bencode.NewDict(bencode.KV{Key: "target", Value: key.Bytes()})
		result, qerr := n.query(ctx, candidate.Addr, "get", args)
		if qerr != nil {
			return
		}
		if token, ok := result.GetBytes("token"); ok {
			pm.Add(types.Contact{ID: candidate.ID, Addr: candidate.Addr}, token)
		}
		if contacts, derr := decodeNodeLists(result); derr == nil {
			for _, c := range contacts {
				learned.Push(c)
			}
		}
	}
	lctx, cancel := context.WithTimeout(ctx, LookupWatchdog)
	collectErr := collect(lctx, n.routingTable, key, evaluate)
	cancel()
	if collectErr != nil {
		return types.ZeroID, 0, dhterr.New(dhterr.Aborted, "immutable_put", collectErr)
	}

	best := pm.Best()
	if len(best) == 0 {
		return key, 0, dhterr.New(dhterr.NetworkUnreachable, "immutable_put", nil)
	}

	write := func(ctx context.Context, e *proximityEntry) error {
		args := bencode.NewDict(
			bencode.KV{Key: "token", Value: e.token},
			bencode.KV{Key: "v", Value: v},
		)
		_, err := n.query(ctx, e.contact.Addr, "put", args)
		return err
	}
	succeeded, err := writeResponsible(ctx, best, write)
	return key, succeeded, err
}

// ============================================================================
//                              mutable_get / mutable_put
// ============================================================================

// MutableResult is the best mutable item ImmutableGet's mutable
// counterpart found.
type MutableResult struct {
	PublicKey ed25519.PublicKey
	Salt      []byte
	Value     []byte // raw bencoded value
	Seq       int64
	Signature []byte
}

// MutableGet runs an iterative get lookup for (pk, salt) and keeps
// scanning, adopting the highest validly-signed seq seen, per spec.md
// §4.4 "Mutable get". Once a first valid item is found, a
// MutableGetWatchdog timer begins; on expiry the search is cut short and
// the best item found so far is returned, to avoid unbounded tails from
// slow or unresponsive stragglers.
func MutableGet(ctx context.Context, n *Node, pk ed25519.PublicKey, salt []byte) (*MutableResult, error) {
	key := MutableKey(pk, salt)
	lookupCtx, cancel := context.WithTimeout(ctx, LookupWatchdog)
	defer cancel()

	var (
		mu        sync.Mutex
		best      *MutableResult
		watchdog  *clock.Timer
		wdStarted = make(chan struct{})
	)

	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		args := bencode.NewDict(bencode.KV{Key: "target", Value: key.Bytes()})
		mu.Lock()
		if best != nil {
			args = args.Set("seq", best.Seq)
		}
		mu.Unlock()

		result, err := n.query(ctx, candidate.Addr, "get", args)
		if err != nil {
			return
		}
		if contacts, derr := decodeNodeLists(result); derr == nil {
			for _, c := range contacts {
				learned.Push(c)
			}
		}

		v, hasV := result.Get("v")
		seq, hasSeq := result.GetInt("seq")
		sig, hasSig := result.GetBytes("sig")
		if !hasV || !hasSeq || !hasSig {
			return
		}
		encoded, err := bencode.Encode(v)
		if err != nil {
			return
		}
		if !VerifyMutableSignature(pk, salt, seq, encoded, sig) {
			return
		}

		mu.Lock()
		if best == nil || seq > best.Seq {
			best = &MutableResult{PublicKey: pk, Salt: salt, Value: encoded, Seq: seq, Signature: sig}
			if watchdog == nil {
				watchdog = n.clock.Timer(MutableGetWatchdog)
				close(wdStarted)
			}
		}
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() { done <- collect(lookupCtx, n.routingTable, key, evaluate) }()

	for {
		mu.Lock()
		wd := watchdog
		mu.Unlock()
		var wdCh <-chan time.Time
		started := wdStarted
		if wd != nil {
			wdCh = wd.C
			started = nil
		}
		select {
		case err := <-done:
			if wd != nil {
				wd.Stop()
			}
			if err != nil {
				return nil, dhterr.New(dhterr.Aborted, "mutable_get", err)
			}
			if best == nil {
				return nil, dhterr.New(dhterr.NotFound, "mutable_get", nil)
			}
			return best, nil
		case <-wdCh:
			cancel()
			<-done
			return best, nil
		case <-started:
			// the first valid item just armed the watchdog; loop to wait on it
		}
	}
}

// MutablePut signs {"salt": salt?, "seq": seq, "v": value} with sk and
// stores it at the nodes responsible for (pk, salt). cas, if non-nil,
// demands the prior seq (BEP-44 compare-and-swap).
func MutablePut(ctx context.Context, n *Node, sk ed25519.PrivateKey, salt []byte, value []byte, seq int64, cas *int64) (int, error) {
	if len(value) > MaxItemValueSize {
		return 0, dhterr.New(dhterr.InvalidArgument, "mutable_put", nil)
	}
	if len(salt) > MaxSaltSize {
		return 0, dhterr.New(dhterr.InvalidArgument, "mutable_put", nil)
	}
	pk := sk.Public().(ed25519.PublicKey)
	key := MutableKey(pk, salt)

	body, err := mutableSignedBody(salt, seq, value)
	if err != nil {
		return 0, dhterr.New(dhterr.InvalidArgument, "mutable_put", err)
	}
	sig := ed25519.Sign(sk, body)

	v, _, err := bencode.Decode(value)
	if err != nil {
		return 0, dhterr.New(dhterr.InvalidArgument, "mutable_put", err)
	}

	pm := newProximityMap(key, K)
	evaluate := func(ctx context.Context, candidate types.Contact, learned *closerQueue) {
		args := bencode.NewDict(bencode.KV{Key: "target", Value: key.Bytes()})
		result, qerr := n.query(ctx, candidate.Addr, "get", args)
		if qerr != nil {
			return
		}
		if token, ok := result.GetBytes("token"); ok {
			pm.Add(types.Contact{ID: candidate.ID, Addr: candidate.Addr}, token)
		}
		if contacts, derr := decodeNodeLists(result); derr == nil {
			for _, c := range contacts {
				learned.Push(c)
			}
		}
	}
	lctx, cancel := context.WithTimeout(ctx, LookupWatchdog)
	collectErr := collect(lctx, n.routingTable, key, evaluate)
	cancel()
	if collectErr != nil {
		return 0, dhterr.New(dhterr.Aborted, "mutable_put", collectErr)
	}

	best := pm.Best()
	if len(best) == 0 {
		return 0, dhterr.New(dhterr.NetworkUnreachable, "mutable_put", nil)
	}

	write := func(ctx context.Context, e *proximityEntry) error {
		kvs := []bencode.KV{
			{Key: "token", Value: e.token},
			{Key: "k", Value: []byte(pk)},
			{Key: "seq", Value: seq},
			{Key: "sig", Value: sig},
			{Key: "v", Value: v},
		}
		if len(salt) > 0 {
			kvs = append(kvs, bencode.KV{Key: "salt", Value: salt})
		}
		if cas != nil {
			kvs = append(kvs, bencode.KV{Key: "cas", Value: *cas})
		}
		_, err := n.query(ctx, e.contact.Addr, "put", bencode.NewDict(kvs...))
		return err
	}
	return writeResponsible(ctx, best, write)
}
