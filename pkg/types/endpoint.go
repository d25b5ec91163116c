package types

import (
	"fmt"
	"net"
	"net/netip"
)

// ============================================================================
//                              Endpoint - UDP 4/6 端点
// ============================================================================

// Endpoint is a UDP address: an IPv4 or IPv6 address plus a port. It is the
// value compact-endpoint encoding (BEP-5 §"nodes"/"values") round-trips.
type Endpoint struct {
	IP   netip.Addr
	Port uint16
}

// EndpointFromUDPAddr converts a *net.UDPAddr into an Endpoint.
func EndpointFromUDPAddr(a *net.UDPAddr) (Endpoint, bool) {
	ip, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Endpoint{}, false
	}
	return Endpoint{IP: ip.Unmap(), Port: uint16(a.Port)}, true
}

// UDPAddr converts ep into a *net.UDPAddr.
func (ep Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: ep.IP.AsSlice(), Port: int(ep.Port)}
}

// String renders ep as "ip:port" ("[ip]:port" for IPv6).
func (ep Endpoint) String() string {
	return net.JoinHostPort(ep.IP.String(), fmt.Sprint(ep.Port))
}

// IsValid reports whether ep carries a valid IP address and a non-zero
// port. It does not apply the martian rules of bencode.IsMartian.
func (ep Endpoint) IsValid() bool {
	return ep.IP.IsValid() && ep.Port != 0
}

// Equal reports whether ep and other denote the same address and port.
func (ep Endpoint) Equal(other Endpoint) bool {
	return ep.IP == other.IP && ep.Port == other.Port
}

// ============================================================================
//                              Contact - 路由表联系人
// ============================================================================

// Contact is a (possibly identified) remote DHT participant. ID is nil for
// bootstrap entries known only by address.
type Contact struct {
	ID   *ID
	Addr Endpoint
}

// HasID reports whether the contact's node id is known.
func (c Contact) HasID() bool {
	return c.ID != nil
}

// String renders the contact for logging.
func (c Contact) String() string {
	if c.ID == nil {
		return "?@" + c.Addr.String()
	}
	return c.ID.String() + "@" + c.Addr.String()
}
