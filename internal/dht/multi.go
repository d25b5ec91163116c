package dht

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/dem31/ouinet/internal/dhterr"
	"github.com/dem31/ouinet/pkg/types"
)

// Multi fans the high-level operations out across every registered Node,
// merging their results, per spec.md §5's "one logical DHT node runs per
// endpoint and the MainlineDht façade fans operations out across them"
// and the supplemental dual-stack note in SPEC_FULL.md §3: a IPv4 Node
// and an IPv6 Node behind one façade.
type Multi struct {
	mu    sync.RWMutex
	nodes []*Node
}

// NewMulti builds a façade over the given nodes (typically one IPv4, one
// IPv6, both already bootstrapped or bootstrapping independently).
func NewMulti(nodes ...*Node) *Multi {
	return &Multi{nodes: nodes}
}

// Add registers another Node with the façade.
func (m *Multi) Add(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, n)
}

func (m *Multi) snapshot() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// Close closes every registered Node.
func (m *Multi) Close() error {
	var first error
	for _, n := range m.snapshot() {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Bootstrap bootstraps every registered Node concurrently, succeeding if
// at least one does.
func (m *Multi) Bootstrap(ctx context.Context) error {
	nodes := m.snapshot()
	if len(nodes) == 0 {
		return dhterr.New(dhterr.InvalidArgument, "multi_bootstrap", nil)
	}
	results := make(chan error, len(nodes))
	for _, n := range nodes {
		n := n
		go func() { results <- n.Bootstrap(ctx) }()
	}
	var last error
	succeeded := false
	for range nodes {
		if err := <-results; err != nil {
			last = err
		} else {
			succeeded = true
		}
	}
	if succeeded {
		return nil
	}
	return last
}

// TrackerGetPeers merges the peers found by every registered Node.
func (m *Multi) TrackerGetPeers(ctx context.Context, infoHash types.ID) ([]types.Endpoint, error) {
	nodes := m.snapshot()
	var (
		mu    sync.Mutex
		all   []types.Endpoint
		seen  = make(map[string]bool)
		last  error
		found bool
	)
	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			peers, _, err := TrackerGetPeers(ctx, n, infoHash)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				last = err
				return
			}
			found = true
			for _, p := range peers {
				if !seen[p.String()] {
					seen[p.String()] = true
					all = append(all, p)
				}
			}
		}()
	}
	wg.Wait()
	if !found {
		return nil, last
	}
	return all, nil
}

// TrackerAnnounce announces to every registered Node's swarm.
func (m *Multi) TrackerAnnounce(ctx context.Context, infoHash types.ID, port uint16) (int, error) {
	return fanOutCount(m.snapshot(), func(n *Node) (int, error) {
		return TrackerAnnounce(ctx, n, infoHash, port)
	})
}

// ImmutableGet returns the first value found by any registered Node.
func (m *Multi) ImmutableGet(ctx context.Context, key types.ID) ([]byte, error) {
	nodes := m.snapshot()
	type result struct {
		v   []byte
		err error
	}
	results := make(chan result, len(nodes))
	for _, n := range nodes {
		n := n
		go func() {
			v, err := ImmutableGet(ctx, n, key)
			results <- result{v, err}
		}()
	}
	var last error
	for range nodes {
		r := <-results
		if r.err == nil {
			return r.v, nil
		}
		last = r.err
	}
	return nil, last
}

// ImmutablePut stores the value via every registered Node.
func (m *Multi) ImmutablePut(ctx context.Context, bencodedValue []byte) (types.ID, int, error) {
	nodes := m.snapshot()
	if len(nodes) == 0 {
		return types.ZeroID, 0, dhterr.New(dhterr.InvalidArgument, "multi_immutable_put", nil)
	}
	key, n, err := ImmutablePut(ctx, nodes[0], bencodedValue)
	total := n
	for _, other := range nodes[1:] {
		_, n, perr := ImmutablePut(ctx, other, bencodedValue)
		total += n
		if err != nil {
			err = perr
		}
	}
	if total > 0 {
		err = nil
	}
	return key, total, err
}

// MutableGet returns the highest-seq item found by any registered Node.
func (m *Multi) MutableGet(ctx context.Context, pk ed25519.PublicKey, salt []byte) (*MutableResult, error) {
	nodes := m.snapshot()
	type result struct {
		r   *MutableResult
		err error
	}
	results := make(chan result, len(nodes))
	for _, n := range nodes {
		n := n
		go func() {
			r, err := MutableGet(ctx, n, pk, salt)
			results <- result{r, err}
		}()
	}
	var best *MutableResult
	var last error
	for range nodes {
		r := <-results
		if r.err != nil {
			last = r.err
			continue
		}
		if best == nil || r.r.Seq > best.Seq {
			best = r.r
		}
	}
	if best == nil {
		return nil, last
	}
	return best, nil
}

// MutablePut stores the signed item via every registered Node.
func (m *Multi) MutablePut(ctx context.Context, sk ed25519.PrivateKey, salt []byte, value []byte, seq int64, cas *int64) (int, error) {
	return fanOutCount(m.snapshot(), func(n *Node) (int, error) {
		return MutablePut(ctx, n, sk, salt, value, seq, cas)
	})
}

func fanOutCount(nodes []*Node, op func(*Node) (int, error)) (int, error) {
	if len(nodes) == 0 {
		return 0, dhterr.New(dhterr.InvalidArgument, "multi", nil)
	}
	type result struct {
		n   int
		err error
	}
	results := make(chan result, len(nodes))
	for _, n := range nodes {
		n := n
		go func() {
			c, err := op(n)
			results <- result{c, err}
		}()
	}
	var total int
	var last error
	for range nodes {
		r := <-results
		total += r.n
		if r.err != nil {
			last = r.err
		}
	}
	if total > 0 {
		return total, nil
	}
	return 0, last
}
