package httpapi

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP attributes requests to a client address. X-Forwarded-For is only
// honoured when the socket peer is one of the trusted proxies; the client is
// then the rightmost hop that is not itself trusted.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP returns a resolver trusting the given proxy ranges. With no
// ranges the socket peer is always the client.
func NewClientIP(trusted []netip.Prefix) ClientIP {
	return ClientIP{trusted: trusted}
}

// Resolve returns the client address of r.
func (c ClientIP) Resolve(r *http.Request) string {
	peer, ok := peerAddr(r)
	if !ok {
		return peerHost(r)
	}
	if !c.trusts(peer) {
		return peer.String()
	}
	hops := forwardedHops(r)
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		addr = addr.Unmap()
		if !c.trusts(addr) {
			return addr.String()
		}
		peer = addr
	}
	return peer.String()
}

func (c ClientIP) trusts(addr netip.Addr) bool {
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(peerHost(r))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
