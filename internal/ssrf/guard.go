// Package ssrf rejects outbound HTTP destinations that resolve into
// loopback, link-local, or private address ranges.
package ssrf

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// Error codes returned by AssertSafe.
var (
	ErrTargetNotAllowed   = errors.New("target_not_allowed")
	ErrInvalidURL         = errors.New("invalid_url")
	ErrProtocolNotAllowed = errors.New("protocol_not_allowed")
	ErrDNSResolutionFailed = errors.New("dns_resolution_failed")
)

var blockedV4 = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

var blockedV6 = mustParseCIDRs(
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// Resolver resolves hostnames to IP addresses. *net.Resolver and
// *dnscache.Resolver (via its LookupHost adapter) both satisfy a narrowed
// form of this; Guard accepts the stdlib shape directly.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard is the SSRF safety check run before a transport's first attempt.
type Guard struct {
	resolver Resolver
}

// New returns a Guard using the given resolver, or net.DefaultResolver when nil.
func New(resolver Resolver) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{resolver: resolver}
}

// AssertSafe validates rawURL: scheme in {http, https}, non-empty
// hostname != "localhost", and every resolved address (or the literal IP)
// outside the blocked ranges. DNS-rebinding is explicitly not addressed here
// (see design notes): the caller is responsible for pinning the same
// resolved address for the subsequent dial.
func (g *Guard) AssertSafe(ctx context.Context, rawURL string) ([]net.IP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrProtocolNotAllowed
	}
	host := u.Hostname()
	if host == "" || host == "localhost" {
		return nil, ErrTargetNotAllowed
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlocked(ip) {
			return nil, ErrTargetNotAllowed
		}
		return []net.IP{ip}, nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, ErrDNSResolutionFailed
	}
	if len(addrs) == 0 {
		return nil, ErrDNSResolutionFailed
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if isBlocked(a.IP) {
			return nil, ErrTargetNotAllowed
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func isBlocked(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range blockedV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range blockedV6 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
