package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrRestrictedURL is returned for URLs that point into private or internal networks.
var ErrRestrictedURL = errors.New("url targets restricted network resources")

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"instance-data":            true,
	"kubernetes":               true,
	"kubernetes.default":       true,
	"kubernetes.default.svc":   true,
}

var blockedSuffixes = []string{".internal", ".local", ".localhost"}

// CGNAT and benchmarking ranges are used by VPN and proxy services and stay reachable.
var allowedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// CheckSafeURL rejects URLs whose host is, or resolves to, a loopback,
// private, link-local or otherwise non-public address. Every resolved address
// must be public. A nil lookup uses the default resolver.
func CheckSafeURL(ctx context.Context, raw string, lookup LookupFunc) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestrictedURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrRestrictedURL)
	}
	if blockedHosts[host] || strings.Contains(host, "metadata") {
		return fmt.Errorf("%w: blocked host %s", ErrRestrictedURL, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: blocked host suffix %s", ErrRestrictedURL, suffix)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason := unsafeAddr(addr); reason != "" {
			return fmt.Errorf("%w: %s address %s", ErrRestrictedURL, reason, addr)
		}
		return nil
	}

	if lookup == nil {
		lookup = defaultLookup
	}
	addrs, err := lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: cannot resolve %s", ErrRestrictedURL, host)
	}
	for _, addr := range addrs {
		if reason := unsafeAddr(addr); reason != "" {
			return fmt.Errorf("%w: %s resolves to %s address %s", ErrRestrictedURL, host, reason, addr)
		}
	}
	return nil
}

func unsafeAddr(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return "loopback"
	case inAllowedRange(addr):
		return ""
	case addr.IsPrivate():
		return "private"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return "multicast"
	case addr.Is4() && addr.As4()[0] >= 240:
		return "reserved"
	}
	return ""
}

func inAllowedRange(addr netip.Addr) bool {
	for _, p := range allowedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}
