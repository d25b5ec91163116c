package bep5swarms

import (
	"crypto/ed25519"
	"crypto/sha1"
	"encoding/base32"
	"fmt"

	"github.com/dem31/ouinet/pkg/types"
)

// pubkeyEncoding is unpadded, upper-case base32 (BASE32UP), matching
// boost's base32_from_binary as used by the original bep5_swarms.cpp.
var pubkeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// prefix renders the "ed25519:<BASE32UP(pubkey)>/v<proto>" common to
// every swarm name.
func prefix(pub ed25519.PublicKey, proto int) string {
	return fmt.Sprintf("ed25519:%s/v%d", pubkeyEncoding.EncodeToString(pub), proto)
}

// InjectorName returns the swarm name used to find uTP endpoints for
// reaching injectors holding pub, at protocol version proto.
func InjectorName(pub ed25519.PublicKey, proto int) string {
	return prefix(pub, proto) + "/injectors"
}

// BridgeName returns the swarm name used to find uTP endpoints for
// reaching bridges to injectors holding pub.
func BridgeName(pub ed25519.PublicKey, proto int) string {
	return prefix(pub, proto) + "/bridges"
}

// URIName returns the swarm name used to find clients keeping a
// cached copy of key, signed with pub.
func URIName(pub ed25519.PublicKey, proto int, key string) string {
	return prefix(pub, proto) + "/uri/" + key
}

// InfoHash returns the BEP-5 info-hash for a swarm name: SHA-1 of its
// UTF-8 bytes. BitTorrent DHT IDs are this digest, never the swarm
// name itself.
func InfoHash(name string) types.ID {
	sum := sha1.Sum([]byte(name))
	id, _ := types.IDFromBytes(sum[:]) // sum is always IDLen bytes
	return id
}

// Injector is the info-hash of pub's injector swarm.
func Injector(pub ed25519.PublicKey, proto int) types.ID {
	return InfoHash(InjectorName(pub, proto))
}

// Bridge is the info-hash of pub's bridge swarm.
func Bridge(pub ed25519.PublicKey, proto int) types.ID {
	return InfoHash(BridgeName(pub, proto))
}

// URI is the info-hash of the swarm of clients holding key, signed by
// pub.
func URI(pub ed25519.PublicKey, proto int, key string) types.ID {
	return InfoHash(URIName(pub, proto, key))
}
