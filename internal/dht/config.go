package dht

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dem31/ouinet/pkg/types"
)

// BootstrapDomains are the well-known BEP-5 bootstrap routers queried, in
// shuffled order, until one answers with our external address (spec.md
// §4.4 "Bootstrap"). Overridable via Config for tests and private swarms.
var BootstrapDomains = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
	"dht.libtorrent.org:25401",
}

// BootstrapRetryPeriod is how often the full bootstrap sweep is retried
// after every router in the list fails to answer.
const BootstrapRetryPeriod = 10 * time.Second

// MutableGetWatchdog bounds how long a mutable_get keeps scanning after it
// has already found one validly-signed item, per spec.md §4.4.
const MutableGetWatchdog = 5 * time.Second

// LookupWatchdog is the absolute ceiling on one iterative lookup
// (collect), per spec.md §5 "Timeouts".
const LookupWatchdog = 5 * time.Minute

// WriteRetries is how many times a responsible-node write (announce_peer
// or put) is retried before giving up on that one node.
const WriteRetries = 3

// ResponsibilityFactor sets how many times K the live-scan responsibility
// check considers "close enough", per spec.md §4.4's supplemental "live
// K-closest scan" rule (4*K).
const ResponsibilityFactor = 4

// Config bundles a Node's tunables. DefaultConfig returns BEP-5 baseline
// values; callers override individual fields as needed, matching the
// teacher's Config/DefaultConfig pattern.
type Config struct {
	// ID seeds the node before bootstrap replaces it with the BEP-42
	// derivation of the external address. Nil means "pick randomly".
	ID *types.ID

	// BootstrapDomains overrides BootstrapDomains for this node.
	BootstrapDomains []string

	// EvictionPolicy overrides the routing table's default eviction
	// policy hook.
	EvictionPolicy EvictionPolicy

	// Clock overrides time for tests. Defaults to the real clock.
	Clock clock.Clock
}

// DefaultConfig returns the BEP-5 baseline configuration.
func DefaultConfig() Config {
	return Config{BootstrapDomains: BootstrapDomains}
}
