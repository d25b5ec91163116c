package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/arc/v2"
)

// ============================================================================
//                              Token
// ============================================================================

// TokenRotationPeriod is how often the secret backing issued tokens
// rotates; both the current and previous secret verify, so a token
// issued just before rotation still works.
const TokenRotationPeriod = 5 * time.Minute

// recentIssueCacheSize bounds the adaptive-replacement cache of the most
// recently issued token per requester/target pair, so a requester that
// retries a get_peers/get before the secret rotates gets back the exact
// same token bytes instead of a freshly recomputed (but equally valid)
// one.
const recentIssueCacheSize = 4096

// tokenStore issues and verifies the short opaque tokens get_peers/get
// hand out and announce_peer/put require back, per spec.md §3 "Token".
type tokenStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	cur    []byte
	prev   []byte
	rotate time.Time

	recent *lru.ARCCache[string, []byte]
}

func newTokenStore(clk clock.Clock) (*tokenStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	recent, err := lru.NewARC[string, []byte](recentIssueCacheSize)
	if err != nil {
		return nil, err
	}
	ts := &tokenStore{clock: clk, recent: recent}
	ts.cur = randomSecret()
	ts.rotate = clk.Now().Add(TokenRotationPeriod)
	return ts, nil
}

func randomSecret() []byte {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// maybeRotate rotates the secret if the current period has elapsed,
// invalidating the recent-issue cache (it was keyed under the old
// secret) and reporting whether a rotation just happened.
func (ts *tokenStore) maybeRotate() bool {
	now := ts.clock.Now()
	if !now.Before(ts.rotate) {
		ts.prev = ts.cur
		ts.cur = randomSecret()
		ts.rotate = now.Add(TokenRotationPeriod)
		ts.recent.Purge()
		return true
	}
	return false
}

// Issue returns a token for (requesterIP, target), computed as
// HMAC(secret, requesterIP || target). A repeat call for the same pair
// within one rotation period returns the cached bytes rather than
// recomputing the HMAC.
func (ts *tokenStore) Issue(requesterIP []byte, target []byte) []byte {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	rotated := ts.maybeRotate()

	key := hex.EncodeToString(requesterIP) + "/" + hex.EncodeToString(target)
	if !rotated {
		if cached, ok := ts.recent.Get(key); ok {
			return cached
		}
	}
	token := computeToken(ts.cur, requesterIP, target)
	ts.recent.Add(key, token)
	return token
}

// Verify accepts a token computed under the current or previous secret.
func (ts *tokenStore) Verify(token []byte, requesterIP []byte, target []byte) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.maybeRotate()

	if hmac.Equal(token, computeToken(ts.cur, requesterIP, target)) {
		return true
	}
	if ts.prev != nil && hmac.Equal(token, computeToken(ts.prev, requesterIP, target)) {
		return true
	}
	return false
}

func computeToken(secret, requesterIP, target []byte) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write(requesterIP)
	mac.Write(target)
	return mac.Sum(nil)
}
