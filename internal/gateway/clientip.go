// ABOUTME: Client IP resolution for lockout keys and rate limiting
// ABOUTME: Forwarding headers are honored only when the direct peer is a trusted proxy

package gateway

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address a request originated from. X-Forwarded-For is
// read right to left, skipping hops inside trusted, so the first untrusted
// hop wins. With no trusted prefixes the peer address is always used.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote, ok := parseIPCandidate(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !isTrusted(remote, trusted) {
		return remote.String()
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip, ok := parseIPCandidate(hops[i])
			if !ok {
				// An unparseable hop ends the trusted chain.
				break
			}
			if !isTrusted(ip, trusted) {
				return ip.String()
			}
		}
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		if ip, ok := parseIPCandidate(xrip); ok {
			return ip.String()
		}
	}
	return remote.String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseIPCandidate accepts a bare address, host:port, or bracketed IPv6.
func parseIPCandidate(raw string) (netip.Addr, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
