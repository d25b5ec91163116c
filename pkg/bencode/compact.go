package bencode

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              紧凑端点编解码
// ============================================================================

// EncodeEndpoint appends ep's compact wire form to buf: 6 bytes for IPv4
// (4-byte address, 2-byte port, both network order), 18 bytes for IPv6.
func EncodeEndpoint(buf []byte, ep types.Endpoint) ([]byte, error) {
	if !ep.IP.IsValid() {
		return nil, fmt.Errorf("bencode: invalid endpoint address")
	}
	if ep.IP.Is4() {
		a := ep.IP.As4()
		buf = append(buf, a[:]...)
	} else if ep.IP.Is6() {
		a := ep.IP.As16()
		buf = append(buf, a[:]...)
	} else {
		return nil, fmt.Errorf("bencode: endpoint address is neither v4 nor v6")
	}
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], ep.Port)
	return append(buf, port[:]...), nil
}

// DecodeEndpoint reads one compact endpoint (6 or 18 bytes, selected by
// v6) from the front of b, returning the endpoint and the remaining bytes.
func DecodeEndpoint(b []byte, v6 bool) (types.Endpoint, []byte, error) {
	n := 6
	if v6 {
		n = 18
	}
	if len(b) < n {
		return types.Endpoint{}, nil, ErrTruncated
	}
	var ip netip.Addr
	if v6 {
		var a [16]byte
		copy(a[:], b[:16])
		ip = netip.AddrFrom16(a)
	} else {
		var a [4]byte
		copy(a[:], b[:4])
		ip = netip.AddrFrom4(a)
	}
	port := binary.BigEndian.Uint16(b[n-2 : n])
	return types.Endpoint{IP: ip, Port: port}, b[n:], nil
}

// EncodeCompactNodes returns the compact "nodes"/"nodes6" encoding of
// contacts: each entry is the contact's 20-byte id followed by its
// compact endpoint. Contacts without an id are skipped, since only
// identified contacts may appear in a nodes list.
func EncodeCompactNodes(contacts []types.Contact, v6 bool) ([]byte, error) {
	buf := make([]byte, 0, len(contacts)*(types.IDLen+6))
	for _, c := range contacts {
		if c.ID == nil {
			continue
		}
		buf = append(buf, c.ID[:]...)
		var err error
		buf, err = EncodeEndpoint(buf, c.Addr)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeCompactNodes parses a "nodes"/"nodes6" byte string into contacts.
func DecodeCompactNodes(b []byte, v6 bool) ([]types.Contact, error) {
	entryLen := types.IDLen + 6
	if v6 {
		entryLen = types.IDLen + 18
	}
	if len(b)%entryLen != 0 {
		return nil, fmt.Errorf("%w: nodes length %d not a multiple of %d", ErrMalformed, len(b), entryLen)
	}
	out := make([]types.Contact, 0, len(b)/entryLen)
	for len(b) > 0 {
		id, err := types.IDFromBytes(b[:types.IDLen])
		if err != nil {
			return nil, err
		}
		ep, rest, err := DecodeEndpoint(b[types.IDLen:], v6)
		if err != nil {
			return nil, err
		}
		b = rest
		if IsMartian(ep) {
			continue
		}
		out = append(out, types.Contact{ID: &id, Addr: ep})
	}
	return out, nil
}

// EncodeCompactPeers returns the compact peer-list encoding ("values") of
// eps, one byte string per endpoint: each a bare compact endpoint, no id.
func EncodeCompactPeers(eps []types.Endpoint) ([][]byte, error) {
	out := make([][]byte, 0, len(eps))
	for _, ep := range eps {
		buf, err := EncodeEndpoint(nil, ep)
		if err != nil {
			return nil, err
		}
		out = append(out, buf)
	}
	return out, nil
}

// DecodeCompactPeer parses one compact endpoint string from a "values"
// list entry, rejecting martian addresses.
func DecodeCompactPeer(b []byte) (types.Endpoint, error) {
	v6 := len(b) == 18
	ep, rest, err := DecodeEndpoint(b, v6)
	if err != nil {
		return types.Endpoint{}, err
	}
	if len(rest) != 0 {
		return types.Endpoint{}, fmt.Errorf("%w: trailing bytes after compact peer", ErrMalformed)
	}
	if IsMartian(ep) {
		return types.Endpoint{}, fmt.Errorf("%w: martian peer address %s", ErrMalformed, ep)
	}
	return ep, nil
}

// ============================================================================
//                              Martian 地址过滤
// ============================================================================

// IsMartian reports whether ep's address is unroutable as a peer/node
// endpoint: an invalid, unspecified, loopback, multicast or link-local
// address, an IPv4 address in 0.0.0.0/8 or 240.0.0.0/4, or port 0. Applied to
// every endpoint decoded off the wire as a peer or node contact, per
// spec.md §4.1.
func IsMartian(ep types.Endpoint) bool {
	ip := ep.IP
	if !ip.IsValid() {
		return true
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.Is4() {
		a := ip.As4()
		// 0.0.0.0/8 (besides the unspecified address itself, already
		// covered above) and 240.0.0.0/4 reserved space.
		if a[0] == 0 || a[0] >= 240 {
			return true
		}
	}
	return ep.Port == 0
}
