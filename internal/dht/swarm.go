package dht

import (
	"context"
	"crypto/ed25519"

	"github.com/dem31/ouinet/pkg/bep5swarms"
	"github.com/dem31/ouinet/pkg/types"
)

// The functions below bridge a signing key's identity to the DHT's
// info-hash keyspace, per spec.md §6 "swarm naming": they compute the
// right bep5swarms.* info-hash and call straight through to
// TrackerGetPeers/TrackerAnnounce, so a caller never has to hand-roll
// an info-hash out of a raw key.

// InjectorPeers looks up the swarm of uTP endpoints reaching
// injectors holding pub at protocol version proto.
func InjectorPeers(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int) ([]types.Endpoint, *proximityMap, error) {
	return TrackerGetPeers(ctx, n, bep5swarms.Injector(pub, proto))
}

// AnnounceInjector announces this node as reachable for pub's
// injector swarm.
func AnnounceInjector(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int, port uint16) (int, error) {
	return TrackerAnnounce(ctx, n, bep5swarms.Injector(pub, proto), port)
}

// BridgePeers looks up the swarm of uTP endpoints reaching bridges to
// injectors holding pub.
func BridgePeers(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int) ([]types.Endpoint, *proximityMap, error) {
	return TrackerGetPeers(ctx, n, bep5swarms.Bridge(pub, proto))
}

// AnnounceBridge announces this node as a bridge to pub's injectors.
func AnnounceBridge(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int, port uint16) (int, error) {
	return TrackerAnnounce(ctx, n, bep5swarms.Bridge(pub, proto), port)
}

// URIPeers looks up the swarm of clients keeping a verified cached
// copy of key, signed by pub.
func URIPeers(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int, key string) ([]types.Endpoint, *proximityMap, error) {
	return TrackerGetPeers(ctx, n, bep5swarms.URI(pub, proto, key))
}

// AnnounceURI announces this node as holding a verified cached copy
// of key, signed by pub.
func AnnounceURI(ctx context.Context, n *Node, pub ed25519.PublicKey, proto int, key string, port uint16) (int, error) {
	return TrackerAnnounce(ctx, n, bep5swarms.URI(pub, proto, key), port)
}
