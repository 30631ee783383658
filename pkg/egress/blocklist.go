// Package egress implements the DNS-pinned, SSRF-safe outbound HTTP guard:
// non-overridable metadata-endpoint blocking, CIDR/port allowlisting, and
// dial-time DNS pinning to prevent TOCTOU between resolution and connection.
package egress

import "net"

// nonOverridableCIDRs and nonOverridableHosts can never be reached through
// the egress guard, regardless of allowlist configuration. Grounded on
// spec.md §4.E's literal list; the teacher's boundary/perimeter.go has no
// equivalent (it does string/regex host matching only), so these checks
// are new, built with library-grade net.IP/net.IPNet math per spec.md §4.E's
// explicit instruction to avoid string-prefix checks.
var nonOverridableCIDRs = mustParseCIDRs([]string{
	"169.254.0.0/16", // AWS/Azure/GCP/OCI metadata range, includes 169.254.169.254
	"169.254.170.2/32",
	"100.100.100.200/32", // Alibaba Cloud metadata
	"fe80::/10",          // link-local v6
})

var nonOverridableHosts = map[string]bool{
	"metadata.google.internal": true,
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("egress: invalid built-in CIDR " + c + ": " + err.Error())
		}
		out = append(out, n)
	}
	return out
}

// isBlockedAddr reports whether ip falls in a non-overridable range.
// IPv4-mapped IPv6 addresses are normalized to their v4 payload first.
func isBlockedAddr(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range nonOverridableCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHost reports whether host (as a literal, pre-resolution) is
// itself on the non-overridable hostname list.
func isBlockedHost(host string) bool {
	return nonOverridableHosts[host]
}
