package multipeer

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// defaultHeadCacheSize bounds how many verified heads (the hash list
// implied by a head's BSigs, per spec.md §4.7 step 1) the reader keeps
// around across fetches, so a reader serving many overlapping
// requests for the same few popular objects doesn't re-verify their
// head on every call.
const defaultHeadCacheSize = 256

// headCache stores verified heads keyed by content key, across Fetch
// calls. It is safe for concurrent use (golang-lru/v2's Cache embeds
// its own lock).
type headCache struct {
	cache *lru.Cache[string, signedhttp.VerifiedHead]
}

func newHeadCache(size int) *headCache {
	if size <= 0 {
		size = defaultHeadCacheSize
	}
	c, err := lru.New[string, signedhttp.VerifiedHead](size)
	if err != nil {
		// size is always > 0 here, so lru.New cannot fail in practice.
		panic(err)
	}
	return &headCache{cache: c}
}

func (h *headCache) get(key string) (signedhttp.VerifiedHead, bool) {
	return h.cache.Get(key)
}

func (h *headCache) put(key string, vh signedhttp.VerifiedHead) {
	h.cache.Add(key, vh)
}
