package dht

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jbenet/goprocess"

	"github.com/dem31/ouinet/internal/dhterr"
	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

// Node is one Kademlia/BEP-5/BEP-44 participant bound to a single UDP
// endpoint, per spec.md §5 "one event loop per endpoint". All of its
// state (routing table, pending-request table, token secret) is owned
// exclusively by this Node; external callers only ever reach it through
// the methods below. Those methods run on the caller's goroutine, and
// each of these components guards its own state with its own mutex.
type Node struct {
	id types.ID

	cfg   Config
	clock clock.Clock

	transport    *transport
	routingTable *RoutingTable
	pending      *pendingTable
	tokens       *tokenStore
	peers        *peerStore
	items        *itemStore
	stats        *statsByType
	metrics      *metrics

	txn  txnIDGenerator
	proc goprocess.Process
}

// New binds a Node to conn. The node's id starts as cfg.ID (or a random
// id if nil); call Bootstrap to adopt the BEP-42 id derived from the
// node's externally observed address, as spec.md §4.4 requires before
// the routing table is meaningful.
func New(conn *net.UDPConn, cfg Config) (*Node, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if len(cfg.BootstrapDomains) == 0 {
		cfg.BootstrapDomains = BootstrapDomains
	}

	id := types.RandomID()
	if cfg.ID != nil {
		id = *cfg.ID
	}

	tokens, err := newTokenStore(cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("dht: building token store: %w", err)
	}

	n := &Node{
		id:           id,
		cfg:          cfg,
		clock:        cfg.Clock,
		routingTable: NewRoutingTable(id, cfg.EvictionPolicy, cfg.Clock),
		pending:      newPendingTable(),
		tokens:       tokens,
		peers:        newPeerStore(cfg.Clock),
		items:        newItemStore(),
		stats:        newStatsByType(),
		metrics:      newMetrics(),
		proc:         goprocess.WithParent(goprocess.Background()),
	}
	n.transport = newTransport(conn, n.proc, n.onMessage)
	return n, nil
}

// ID returns the node's current id.
func (n *Node) ID() types.ID { return n.id }

// LocalAddr returns the bound UDP endpoint.
func (n *Node) LocalAddr() types.Endpoint { return n.transport.LocalAddr() }

// RoutingTable exposes the node's table for read-only diagnostics
// (metrics, tests); all mutation still goes exclusively through Node.
func (n *Node) RoutingTable() *RoutingTable { return n.routingTable }

// Close tears down the node's transport and every process spawned off
// its nursery, per spec.md §5 "cancellation ... releases any holding of
// the routing table or pending-request table".
func (n *Node) Close() error {
	err := n.transport.Close()
	n.proc.Close()
	return err
}

// onMessage is the transport's single dispatch point: every inbound
// datagram, successfully decoded, arrives here on the transport's one
// receive-loop goroutine.
func (n *Node) onMessage(m *message, from types.Endpoint) {
	switch m.Y {
	case "q":
		n.recordInboundContact(m, from)
		result, kerr := n.handleQuery(m, from)
		n.reply(from, m.T, result, kerr)
	case "r", "e":
		n.pending.Deliver(m.T, from, m)
	default:
		log.Debug("dropping message of unknown type", "y", m.Y, "from", from)
	}
}

// recordInboundContact adds the querying node to the routing table as an
// unverified ("questionable") contact if its id is present and well
// formed; a reply to one of our own queries is what actually promotes it
// to "good" (see query below).
func (n *Node) recordInboundContact(m *message, from types.Endpoint) {
	idBytes, ok := m.Args.GetBytes("id")
	if !ok {
		return
	}
	id, err := types.IDFromBytes(idBytes)
	if err != nil || id == n.id {
		return
	}
	n.routingTable.TryAdd(types.Contact{ID: &id, Addr: from}, false)
}

func (n *Node) reply(to types.Endpoint, txnID string, result bencode.Dict, kerr *krpcError) {
	m := &message{T: txnID, Y: "r", Response: result}
	if kerr != nil {
		m = &message{T: txnID, Y: "e", Err: kerr}
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := n.transport.Send(ctx, m, to); err != nil {
		log.Debug("failed to send reply", "to", to, "err", err)
	}
}

// query sends queryName(args) to to and waits for a reply, honoring the
// adaptive per-query-type timeout (spec.md §4.4 "Request/response
// correlation"). On success the peer is promoted in the routing table
// and the observed latency feeds that query type's rolling stats; on
// failure or timeout it is demoted.
func (n *Node) query(ctx context.Context, to types.Endpoint, queryName string, args bencode.Dict) (bencode.Dict, error) {
	args = args.Set("id", n.id.Bytes())
	txnID := n.txn.Next()
	m := &message{T: txnID, Y: "q", Query: queryName, Args: args}

	replyCh := n.pending.Register(txnID, to)
	start := n.clock.Now()

	if err := n.transport.Send(ctx, m, to); err != nil {
		n.pending.Cancel(txnID)
		return nil, dhterr.New(dhterr.NetworkUnreachable, "query:"+queryName, err)
	}

	timeout := n.stats.Timeout(queryName)
	timer := n.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		n.pending.Cancel(txnID)
		n.demote(to)
		n.metrics.observeQuery(queryName, "aborted")
		return nil, dhterr.New(dhterr.Aborted, "query:"+queryName, ctx.Err())
	case <-timer.C:
		n.pending.Cancel(txnID)
		n.demote(to)
		n.metrics.observeQuery(queryName, "timeout")
		return nil, dhterr.New(dhterr.Timeout, "query:"+queryName, fmt.Errorf("no reply within %s", timeout))
	case reply := <-replyCh:
		if reply == nil {
			n.metrics.observeQuery(queryName, "cancelled")
			return nil, dhterr.New(dhterr.Aborted, "query:"+queryName, context.Canceled)
		}
		n.stats.Observe(queryName, n.clock.Now().Sub(start))
		if reply.Y == "e" {
			n.demote(to)
			n.metrics.observeQuery(queryName, "error")
			return nil, dhterr.New(dhterr.BadMessage, "query:"+queryName, reply.Err)
		}
		n.promote(to, reply.Response)
		n.metrics.observeQuery(queryName, "ok")
		return reply.Response, nil
	}
}

func (n *Node) promote(from types.Endpoint, result bencode.Dict) {
	idBytes, ok := result.GetBytes("id")
	if !ok {
		return
	}
	id, err := types.IDFromBytes(idBytes)
	if err != nil || id == n.id {
		return
	}
	n.routingTable.TryAdd(types.Contact{ID: &id, Addr: from}, true)
}

func (n *Node) demote(to types.Endpoint) {
	cs := n.routingTable.FindByAddr(to)
	if cs == nil {
		return
	}
	n.routingTable.Fail(cs.Contact)
}

// isResponsibleFor reports whether this node is among the
// ResponsibilityFactor*K closest currently-known nodes to target, the
// live-scan rule spec.md §4.4's supplemental notes require in place of a
// static threshold.
func (n *Node) isResponsibleFor(target types.ID) bool {
	closest := n.routingTable.FindClosest(target, ResponsibilityFactor*K)
	if len(closest) < ResponsibilityFactor*K {
		return true
	}
	self := n.id.Xor(target)
	farthest := closest[len(closest)-1].ID.Xor(target)
	return !farthest.Less(self)
}

// Ping sends a bare ping to to and reports whether it replied.
func (n *Node) Ping(ctx context.Context, to types.Endpoint) bool {
	_, err := n.query(ctx, to, "ping", bencode.NewDict())
	return err == nil
}

// FindNode asks to for the nodes closest to target.
func (n *Node) FindNode(ctx context.Context, to types.Endpoint, target types.ID) ([]types.Contact, error) {
	args := bencode.NewDict(bencode.KV{Key: "target", Value: target.Bytes()})
	result, err := n.query(ctx, to, "find_node", args)
	if err != nil {
		return nil, err
	}
	return decodeNodeLists(result)
}

func decodeNodeLists(result bencode.Dict) ([]types.Contact, error) {
	var out []types.Contact
	if b, ok := result.GetBytes("nodes"); ok {
		contacts, err := bencode.DecodeCompactNodes(b, false)
		if err != nil {
			return nil, err
		}
		out = append(out, contacts...)
	}
	if b, ok := result.GetBytes("nodes6"); ok {
		contacts, err := bencode.DecodeCompactNodes(b, true)
		if err != nil {
			return nil, err
		}
		out = append(out, contacts...)
	}
	return out, nil
}

// announcer periodically re-announces a swarm so the record does not
// expire from peers' PeerTTL, per spec.md §4.4's supplemental
// "self-announce loop" (a bare primitive only; scheduling policy across
// many swarms stays the caller's responsibility, per spec.md §1).
type Announcer struct {
	node     *Node
	infoHash types.ID
	port     uint16
	period   time.Duration
	proc     goprocess.Process
}

// Announcer starts a periodic tracker_announce for infoHash/port every
// period, stopping when the returned Announcer is closed or the node is.
func (n *Node) Announcer(infoHash types.ID, port uint16, period time.Duration) *Announcer {
	a := &Announcer{node: n, infoHash: infoHash, port: port, period: period}
	a.proc = n.proc.Go(a.run)
	return a
}

func (a *Announcer) run(proc goprocess.Process) {
	ticker := a.node.clock.Ticker(a.period)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-proc.Closing()
		cancel()
	}()

	_, _ = TrackerAnnounce(ctx, a.node, a.infoHash, a.port)
	for {
		select {
		case <-proc.Closing():
			return
		case <-ticker.C:
			_, _ = TrackerAnnounce(ctx, a.node, a.infoHash, a.port)
		}
	}
}

// Close stops the announcer's periodic refresh.
func (a *Announcer) Close() error {
	a.proc.Close()
	return nil
}
