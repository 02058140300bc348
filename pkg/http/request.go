package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges or single addresses of trusted proxies

	prefixes []netip.Prefix
	parsed   bool
}

// NewIPConfig parses the trusted proxy list once. Invalid entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	c := &IPConfig{TrustedProxies: trustedProxies}
	c.prefixes = parsePrefixes(trustedProxies)
	c.parsed = true
	return c
}

func parsePrefixes(entries []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return prefixes
}

func (c *IPConfig) trusted(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	prefixes := c.prefixes
	if !c.parsed {
		prefixes = parsePrefixes(c.TrustedProxies)
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address a request should be attributed to.
// Forwarding headers are honoured only when the peer is a trusted proxy.
// X-Forwarded-For is walked right to left and the first hop that is not
// itself a trusted proxy wins, so a client cannot prepend a spoofed entry.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := getRemoteAddr(r)

	remoteAddr, err := netip.ParseAddr(remote)
	if err != nil {
		return remote
	}
	remote = remoteAddr.Unmap().String()
	if !config.trusted(remoteAddr) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !config.trusted(hop) {
				return hop.Unmap().String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if a, err := netip.ParseAddr(xri); err == nil {
			return a.Unmap().String()
		}
	}

	return remote
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}
