package egress

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPorts are the ports assumed when a PrivateEndpoint entry doesn't
// specify any, per spec.md §3.
var DefaultPorts = []int{80, 443}

// PrivateEndpoint is one allowlist entry: either a literal host or a CIDR,
// plus the ports permitted against it.
type PrivateEndpoint struct {
	Label   string   `yaml:"label"`
	Host    string   `yaml:"host,omitempty"`
	CIDR    string   `yaml:"cidr,omitempty"`
	Ports   []int    `yaml:"ports,omitempty"`
	cidrNet *net.IPNet
}

func (p *PrivateEndpoint) portsOrDefault() []int {
	if len(p.Ports) == 0 {
		return DefaultPorts
	}
	return p.Ports
}

func (p *PrivateEndpoint) portAllowed(port int) bool {
	for _, allowed := range p.portsOrDefault() {
		if allowed == port {
			return true
		}
	}
	return false
}

// Allowlist is an ordered set of private endpoints. An empty allowlist
// means "no restriction beyond the non-overridable blocks".
type Allowlist struct {
	entries []PrivateEndpoint
}

// NewAllowlist constructs an Allowlist from entries, pre-compiling any CIDR
// fields.
func NewAllowlist(entries []PrivateEndpoint) (*Allowlist, error) {
	compiled := make([]PrivateEndpoint, len(entries))
	for i, e := range entries {
		if e.CIDR != "" {
			_, n, err := net.ParseCIDR(e.CIDR)
			if err != nil {
				return nil, fmt.Errorf("egress: allowlist entry %q: invalid cidr %q: %w", e.Label, e.CIDR, err)
			}
			e.cidrNet = n
		}
		compiled[i] = e
	}
	return &Allowlist{entries: compiled}, nil
}

// LoadAllowlistFile reads a YAML allowlist file in the same config-loading
// idiom the teacher uses for env-driven config.
func LoadAllowlistFile(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("egress: read allowlist file: %w", err)
	}
	var entries []PrivateEndpoint
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("egress: parse allowlist file: %w", err)
	}
	return NewAllowlist(entries)
}

// Empty reports whether the allowlist has no entries (no restriction).
func (a *Allowlist) Empty() bool {
	return a == nil || len(a.entries) == 0
}

// MatchAddr reports whether (host-literal, resolved ip, port) is permitted
// by any entry. Host and CIDR entries are both considered; host comparison
// is exact and case-insensitive.
func (a *Allowlist) MatchAddr(hostLiteral string, ip net.IP, port int) bool {
	if a.Empty() {
		return true
	}
	hostLower := strings.ToLower(hostLiteral)
	for _, e := range a.entries {
		if !e.portAllowed(port) {
			continue
		}
		if e.Host != "" && strings.ToLower(e.Host) == hostLower {
			return true
		}
		if e.cidrNet != nil && ip != nil && e.cidrNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ParsePort converts a port string (possibly empty) to an int, defaulting
// based on scheme.
func ParsePort(portStr, scheme string) (int, error) {
	if portStr == "" {
		if scheme == "https" {
			return 443, nil
		}
		return 80, nil
	}
	return strconv.Atoi(portStr)
}
