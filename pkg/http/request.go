package http

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the real client IP from a request. Forwarding
// headers are only honoured when the direct peer is a trusted proxy, so a
// client cannot spoof its address by setting X-Forwarded-For itself.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver builds a resolver from trusted proxy CIDR ranges.
// Invalid ranges are skipped.
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	r := &ClientIPResolver{}
	for _, cidr := range trustedProxies {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			r.trusted = append(r.trusted, ipNet)
		}
	}
	return r
}

// Resolve returns the client IP for the request. The order is
// X-Forwarded-For, then X-Real-IP, then RemoteAddr, with the forwarding
// headers consulted only behind a trusted proxy.
func (res *ClientIPResolver) Resolve(r *http.Request) string {
	remoteIP := remoteAddr(r)

	if res.isTrustedProxy(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				candidate = strings.TrimSpace(candidate)
				if net.ParseIP(candidate) != nil {
					return candidate
				}
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if net.ParseIP(xri) != nil {
				return xri
			}
		}
	}

	return remoteIP
}

func (res *ClientIPResolver) isTrustedProxy(ip string) bool {
	peer := net.ParseIP(ip)
	if peer == nil {
		return false
	}
	for _, ipNet := range res.trusted {
		if ipNet.Contains(peer) {
			return true
		}
	}
	return false
}

// remoteAddr strips the port from RemoteAddr when present
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
