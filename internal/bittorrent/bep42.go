// Package bittorrent implements small standalone pieces of the BitTorrent
// DHT specification that do not belong to any single ouinet component:
// currently just the BEP-42 node-id derivation used at bootstrap time to
// tie a node's id to its externally observed IP (spec.md §4.4 "Bootstrap").
package bittorrent

import (
	"crypto/rand"
	"hash/crc32"
	"net/netip"

	"github.com/dem31/ouinet/pkg/types"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// v4Mask and v6Mask zero the bits BEP-42 excludes before hashing, so that
// nearby addresses (same /22 for v4, same /38 for v6) collapse onto
// related id prefixes, preventing a Sybil from claiming ids close to an
// arbitrary target just by varying the low bits of one address.
var v4Mask = [4]byte{0x03, 0x0f, 0x3f, 0xff}
var v6Mask = [8]byte{0x01, 0x03, 0x07, 0x0f, 0x3f, 0xff, 0xff, 0xff}

// BEP42ID derives a node id from externalIP following BEP-42. r is the
// low-order security byte mixed into the hash and stored verbatim as the
// id's last byte; callers should keep r fixed across bootstraps from the
// same IP, and pick a fresh random r if the IP changes. Every byte of the
// id besides the masked-and-hashed prefix and the trailing r is filled
// with cryptographically random noise, per the spec.
func BEP42ID(externalIP netip.Addr, r byte) (types.ID, error) {
	var masked []byte
	switch {
	case externalIP.Is4():
		a := externalIP.As4()
		masked = make([]byte, 4)
		for i := range a {
			masked[i] = a[i] & v4Mask[i]
		}
	case externalIP.Is6():
		a := externalIP.As16()
		masked = make([]byte, 8)
		for i := range masked {
			masked[i] = a[i] & v6Mask[i]
		}
	default:
		return types.ZeroID, errInvalidAddr
	}
	masked[0] |= (r & 0x7) << 5

	crc := crc32.Checksum(masked, castagnoli)

	var id types.ID
	id[0] = byte(crc >> 24)
	id[1] = byte(crc >> 16)

	var lowBits [1]byte
	if _, err := rand.Read(lowBits[:]); err != nil {
		return types.ZeroID, err
	}
	id[2] = (byte(crc>>8) & 0xf8) | (lowBits[0] & 0x7)

	if _, err := rand.Read(id[3:19]); err != nil {
		return types.ZeroID, err
	}
	id[19] = r

	return id, nil
}

// RandomSecurityByte returns a fresh random byte suitable for use as the
// r parameter of BEP42ID.
func RandomSecurityByte() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

var errInvalidAddr = errAddr{}

type errAddr struct{}

func (errAddr) Error() string { return "bittorrent: address is neither IPv4 nor IPv6" }
