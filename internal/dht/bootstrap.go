package dht

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/netip"

	"github.com/dem31/ouinet/internal/bittorrent"
	"github.com/dem31/ouinet/internal/dhterr"
	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

// Bootstrap resolves and queries the configured router domains, shuffled,
// until one answers a find_node carrying a BEP-42 "ip" extension field.
// On the first success the node's id is replaced with
// bittorrent.BEP42ID(external_ip, r), a fresh routing table is built
// around that id, the bootstrap contact is seeded into it, and a
// find_node for our own id is issued to populate the table, per spec.md
// §4.4 "Bootstrap". The whole sweep is retried every BootstrapRetryPeriod
// until it succeeds or ctx is cancelled.
func (n *Node) Bootstrap(ctx context.Context) error {
	domains := append([]string(nil), n.cfg.BootstrapDomains...)
	r := rand.New(rand.NewSource(int64(n.clock.Now().UnixNano())))

	for {
		r.Shuffle(len(domains), func(i, j int) { domains[i], domains[j] = domains[j], domains[i] })

		for _, domain := range domains {
			select {
			case <-ctx.Done():
				return dhterr.New(dhterr.Aborted, "bootstrap", ctx.Err())
			default:
			}
			ep, externalIP, err := n.bootstrapOne(ctx, domain)
			if err != nil {
				continue
			}
			return n.adoptBootstrapID(ctx, ep, externalIP)
		}

		timer := n.clock.Timer(BootstrapRetryPeriod)
		select {
		case <-ctx.Done():
			timer.Stop()
			return dhterr.New(dhterr.Aborted, "bootstrap", ctx.Err())
		case <-timer.C:
		}
	}
}

// bootstrapOne resolves domain and sends it a find_node for our current
// id, returning its endpoint and the external address it reported back
// in the reply's BEP-42 "ip" field, if any.
func (n *Node) bootstrapOne(ctx context.Context, domain string) (types.Endpoint, net.IP, error) {
	addr, err := net.ResolveUDPAddr("udp", domain)
	if err != nil {
		return types.Endpoint{}, nil, err
	}
	ep, ok := types.EndpointFromUDPAddr(addr)
	if !ok {
		return types.Endpoint{}, nil, fmt.Errorf("dht: could not resolve %s to an endpoint", domain)
	}

	args := bencode.NewDict(bencode.KV{Key: "target", Value: n.id.Bytes()})
	result, err := n.query(ctx, ep, "find_node", args)
	if err != nil {
		return types.Endpoint{}, nil, err
	}

	ipBytes, ok := result.GetBytes("ip")
	if !ok {
		return ep, nil, fmt.Errorf("dht: %s did not report our external ip", domain)
	}
	ext, _, err := bencode.DecodeEndpoint(ipBytes, len(ipBytes) == 18)
	if err != nil {
		return ep, nil, err
	}
	return ep, ext.IP.AsSlice(), nil
}

func (n *Node) adoptBootstrapID(ctx context.Context, bootstrapEP types.Endpoint, externalIP net.IP) error {
	addr, ok := netip.AddrFromSlice(externalIP)
	if !ok {
		return dhterr.New(dhterr.InvalidArgument, "bootstrap", fmt.Errorf("bad external ip %v", externalIP))
	}
	addr = addr.Unmap()

	r, err := bittorrent.RandomSecurityByte()
	if err != nil {
		return err
	}
	newID, err := bittorrent.BEP42ID(addr, r)
	if err != nil {
		return err
	}

	// The bootstrap router's reply promoted it (with its id) into the old
	// table; carry that contact over, since an id-less contact has no slot.
	seed := types.Contact{Addr: bootstrapEP}
	if cs := n.routingTable.FindByAddr(bootstrapEP); cs != nil {
		seed = cs.Contact
	}

	n.id = newID
	n.routingTable = NewRoutingTable(newID, n.cfg.EvictionPolicy, n.clock)
	n.routingTable.TryAdd(seed, false)

	selfArgs := bencode.NewDict(bencode.KV{Key: "target", Value: newID.Bytes()})
	result, err := n.query(ctx, bootstrapEP, "find_node", selfArgs)
	if err != nil {
		log.Warn("self find_node after bootstrap failed", "err", err)
		return nil
	}
	if contacts, err := decodeNodeLists(result); err == nil {
		for _, c := range contacts {
			n.routingTable.TryAdd(c, false)
		}
	}
	return nil
}
