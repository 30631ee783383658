// Package tiers canonicalizes the capability-tier name space. Tier names
// vary across callers ("WRITE_SAFE" vs "WRITE_LOCAL", assorted casing); this
// package is the single edge where any inbound spelling is normalized to
// one canonical set, per spec.md §9's instruction not to guess and instead
// pick one set and translate.
package tiers

import "strings"

// Tier is the canonical capability tier.
type Tier string

const (
	ReadOnly     Tier = "read-only"
	WriteLocal   Tier = "write-local"
	FullAccess   Tier = "full-access"
	PublicSocial Tier = "public-social"
)

// aliases maps every spelling seen in the wild (case-insensitive) to a
// canonical Tier.
var aliases = map[string]Tier{
	"read-only":     ReadOnly,
	"read_only":     ReadOnly,
	"readonly":      ReadOnly,
	"write-local":   WriteLocal,
	"write_local":   WriteLocal,
	"write-safe":    WriteLocal,
	"write_safe":    WriteLocal,
	"full-access":   FullAccess,
	"full_access":   FullAccess,
	"fullaccess":    FullAccess,
	"public-social": PublicSocial,
	"public_social": PublicSocial,
}

// Canonicalize normalizes any known spelling to the canonical tier. Unknown
// input falls back to ReadOnly, the least-privileged tier, so an
// unrecognized tier name never accidentally grants more than read access.
func Canonicalize(raw string) Tier {
	key := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := aliases[key]; ok {
		return t
	}
	return ReadOnly
}

// Valid reports whether t is one of the canonical tiers.
func Valid(t Tier) bool {
	switch t {
	case ReadOnly, WriteLocal, FullAccess, PublicSocial:
		return true
	}
	return false
}
