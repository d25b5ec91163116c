package multipeer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/dem31/ouinet/internal/util/logger"
	"github.com/dem31/ouinet/pkg/bep5swarms"
	"github.com/dem31/ouinet/pkg/signedhttp"
	"github.com/dem31/ouinet/pkg/types"
)

// DefaultFanout is P from spec.md §4.7 step 2: the number of best
// peers raced for each block.
const DefaultFanout = 3

// Reader assembles a verified response out of a swarm of peers, per
// spec.md §4.7. All content it fetches is checked against Verifier's
// key; a Reader has a single trusted signer, consistent with a client
// that only ever asks for objects from injectors it already trusts.
type Reader struct {
	Verifier *signedhttp.Verifier
	Fanout   int

	cache   *headCache
	metrics *metrics
	log     *slog.Logger
}

// NewReader returns a Reader that verifies with verifier, caching up to
// headCacheSize heads across Fetch calls (0 for the default).
func NewReader(verifier *signedhttp.Verifier, headCacheSize int) *Reader {
	return &Reader{
		Verifier: verifier,
		Fanout:   DefaultFanout,
		cache:    newHeadCache(headCacheSize),
		metrics:  newMetrics(),
		log:      logger.Logger("multipeer"),
	}
}

// SwarmInfoHash returns the BEP-5 info-hash a caller should pass to
// internal/dht's tracker_get_peers to discover peers holding a
// verified cached copy of key, signed by this Reader's trusted key —
// bridging the (pubkey, protocol version, key) triple Fetch's key
// space is built on to the DHT's swarm identity, per spec.md §6
// "swarm naming".
func (r *Reader) SwarmInfoHash(key string) types.ID {
	return bep5swarms.URI(r.Verifier.Pub, signedhttp.Version, key)
}

func (r *Reader) fanout() int {
	if r.Fanout <= 0 {
		return DefaultFanout
	}
	return r.Fanout
}

// Fetch looks up key on the given candidate peers and returns a
// Stream of its verified content. It blocks until the head has been
// fetched and verified (so an all-peers-failed error surfaces
// immediately); the body is then raced and streamed in the background
// as the caller drains the Stream.
func (r *Reader) Fetch(ctx context.Context, key string, peers []Peer) (*Stream, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("multipeer: no peers given for %s", key)
	}

	bl := newBlacklist()
	vh, head, err := r.fetchHead(ctx, key, peers, bl)
	if err != nil {
		return nil, err
	}

	stream := newStream()
	go r.streamBody(ctx, stream, key, peers, bl, vh, head)
	return stream, nil
}

// fetchHead returns a verified head for key, from cache if present,
// else by racing every given peer and keeping whichever answers first
// with a head that verifies.
func (r *Reader) fetchHead(ctx context.Context, key string, peers []Peer, bl *blacklist) (signedhttp.VerifiedHead, signedhttp.Head, error) {
	if vh, ok := r.cache.get(key); ok {
		return vh, vh.Head, nil
	}

	type result struct {
		head signedhttp.Head
		vh   signedhttp.VerifiedHead
	}
	resc := make(chan result, len(peers))
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			head, err := p.FetchHead(gctx, key)
			if err != nil {
				r.log.Debug("peer head fetch failed", "peer", p.String(), "key", key, "err", err)
				return
			}
			vh, err := r.Verifier.VerifyHead(head)
			if err != nil {
				r.log.Warn("peer returned an unverifiable head", "peer", p.String(), "key", key, "err", err)
				bl.mark(p)
				return
			}
			resc <- result{head: head, vh: vh}
		}()
	}
	go func() { wg.Wait(); close(resc) }()

	select {
	case res, ok := <-resc:
		if !ok {
			return signedhttp.VerifiedHead{}, signedhttp.Head{}, fmt.Errorf("multipeer: no peer returned a verifiable head for %s", key)
		}
		cancel()
		r.cache.put(key, res.vh)
		return res.vh, res.head, nil
	case <-ctx.Done():
		return signedhttp.VerifiedHead{}, signedhttp.Head{}, ctx.Err()
	}
}

// streamBody emits the head part, then one (chunk_hdr, chunk_body)
// pair per block fetched via fetchBlock, then a trailer built from the
// last block's completed head.
func (r *Reader) streamBody(ctx context.Context, stream *Stream, key string, peers []Peer, bl *blacklist, vh signedhttp.VerifiedHead, head signedhttp.Head) {
	if err := stream.send(ctx, Part{Kind: PartHead, Head: head}); err != nil {
		stream.fail(err)
		return
	}

	dataSizeStr := head.Header.Get(signedhttp.HeaderDataSize)
	dataSize, err := strconv.ParseUint(dataSizeStr, 10, 64)
	if err != nil {
		stream.fail(fmt.Errorf("multipeer: head for %s missing a usable %s: %w", key, signedhttp.HeaderDataSize, err))
		return
	}
	blockSize := uint64(vh.BSigs.Size)
	if blockSize == 0 {
		stream.fail(fmt.Errorf("multipeer: head for %s has a zero block size", key))
		return
	}

	var trailer signedhttp.Head
	var prevChash []byte // CHASH[i-1], the ouihash seed; nil for block 0
	for offset := uint64(0); offset < dataSize; offset += blockSize {
		first := int64(offset)
		last := first + int64(blockSize) - 1
		if uint64(last) >= dataSize {
			last = int64(dataSize) - 1
		}

		block, blockTrailer, err := r.fetchBlock(ctx, key, peers, bl, first, last)
		if err != nil {
			stream.fail(err)
			return
		}
		trailer = blockTrailer

		if err := stream.send(ctx, Part{Kind: PartChunkHeader, ChunkExt: signedhttp.EncodeChunkExtension(block.sig, prevChash)}); err != nil {
			stream.fail(err)
			return
		}
		if err := stream.send(ctx, Part{Kind: PartChunkBody, Data: block.data, DHash: block.dhash, CHash: block.chash, Sig: block.sig}); err != nil {
			stream.fail(err)
			return
		}
		prevChash = append([]byte(nil), block.chash[:]...)
	}

	if err := stream.send(ctx, Part{Kind: PartTrailer, Trailer: trailer}); err != nil {
		stream.fail(err)
		return
	}
	stream.finish()
}

type verifiedBlock struct {
	data  []byte
	dhash [64]byte
	chash [64]byte
	sig   []byte
}

// fetchBlock races the fanout() best remaining (non-blacklisted)
// peers for the block covering [first, last], per spec.md §4.7 step
// 2: the first to deliver verifiable bytes wins, the rest are
// cancelled. A peer whose bytes fail to verify is blacklisted and
// never raced again for this Fetch.
func (r *Reader) fetchBlock(ctx context.Context, key string, peers []Peer, bl *blacklist, first, last int64) (verifiedBlock, signedhttp.Head, error) {
	candidates := bestPeers(peers, bl, r.fanout())
	if len(candidates) == 0 {
		return verifiedBlock{}, signedhttp.Head{}, fmt.Errorf("multipeer: no usable peers left for %s block [%d,%d]", key, first, last)
	}

	type result struct {
		block   verifiedBlock
		trailer signedhttp.Head
	}
	resc := make(chan result, len(candidates))
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	raced := 0
	for _, p := range candidates {
		p := p
		raced++
		wg.Add(1)
		go func() {
			defer wg.Done()
			block, trailer, err := r.tryBlock(gctx, p, key, first, last)
			if err != nil {
				r.log.Debug("peer block fetch failed", "peer", p.String(), "key", key, "first", first, "err", err)
				bl.mark(p)
				r.metrics.peersBlacklisted.Inc()
				return
			}
			resc <- result{block: block, trailer: trailer}
		}()
	}
	go func() { wg.Wait(); close(resc) }()

	select {
	case res, ok := <-resc:
		if !ok {
			r.metrics.observeBlock("rejected")
			return verifiedBlock{}, signedhttp.Head{}, fmt.Errorf("multipeer: no peer delivered a verifiable block [%d,%d] for %s", first, last, key)
		}
		cancel()
		r.metrics.observeBlock("verified")
		r.metrics.peerRaceSize.Observe(float64(raced))
		return res.block, res.trailer, nil
	case <-ctx.Done():
		return verifiedBlock{}, signedhttp.Head{}, ctx.Err()
	}
}

// tryBlock fetches and verifies one peer's answer for [first, last]
// as a standalone signed range response.
func (r *Reader) tryBlock(ctx context.Context, p Peer, key string, first, last int64) (verifiedBlock, signedhttp.Head, error) {
	head, body, err := p.FetchRange(ctx, key, first, last)
	if err != nil {
		return verifiedBlock{}, signedhttp.Head{}, err
	}
	defer body.Close()

	vh, err := r.Verifier.VerifyHead(head)
	if err != nil {
		return verifiedBlock{}, signedhttp.Head{}, fmt.Errorf("head: %w", err)
	}

	var block verifiedBlock
	br := bufio.NewReader(body)
	trailer, err := r.Verifier.VerifyBody(br, vh, func(offset uint64, data []byte, dhash, chash [64]byte, sig []byte) error {
		block = verifiedBlock{data: data, dhash: dhash, chash: chash, sig: sig}
		return nil
	})
	if err != nil {
		return verifiedBlock{}, signedhttp.Head{}, err
	}
	if block.data == nil {
		return verifiedBlock{}, signedhttp.Head{}, fmt.Errorf("multipeer: peer %s returned an empty range for [%d,%d]", p.String(), first, last)
	}
	return block, trailer, nil
}

// bestPeers returns up to n peers from peers that bl hasn't marked
// bad, in their given order. The caller is expected to have ordered
// peers by whatever proximity/goodness signal it has (e.g. DHT
// closeness); this package has no opinion on that ordering beyond
// "earlier is better".
func bestPeers(peers []Peer, bl *blacklist, n int) []Peer {
	out := make([]Peer, 0, n)
	for _, p := range peers {
		if bl.isBad(p) {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}
