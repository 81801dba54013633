package upstream

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// SSRFGuard blocks outbound calls to private, loopback, or link-local
// targets unless explicitly allowed, and optionally restricts hosts to a
// configured whitelist.
type SSRFGuard struct {
	AllowInternalNetworks bool
	Whitelist             []string // exact host or suffix match (".internal.example.com")

	resolver *net.Resolver
}

// NewSSRFGuard constructs a guard. A nil resolver uses net.DefaultResolver.
func NewSSRFGuard(allowInternal bool, whitelist []string) *SSRFGuard {
	return &SSRFGuard{
		AllowInternalNetworks: allowInternal,
		Whitelist:             whitelist,
		resolver:              net.DefaultResolver,
	}
}

// Check validates rawURL's host against the guard's policy, resolving the
// hostname when it is not already a literal IP.
func (g *SSRFGuard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("upstream: invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("upstream: url has no host")
	}

	if len(g.Whitelist) > 0 && !g.hostAllowed(host) {
		return fmt.Errorf("upstream: host %q not in outbound whitelist", host)
	}

	if g.AllowInternalNetworks {
		return nil
	}

	ips, err := g.resolveIPs(ctx, host)
	if err != nil {
		return fmt.Errorf("upstream: resolving host %q: %w", host, err)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return fmt.Errorf("upstream: host %q resolves to disallowed address %s", host, ip)
		}
	}
	return nil
}

func (g *SSRFGuard) hostAllowed(host string) bool {
	for _, allowed := range g.Whitelist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (g *SSRFGuard) resolveIPs(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
