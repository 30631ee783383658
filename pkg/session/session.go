// Package session implements the short-lived, scope-scoped bearer token
// issuer minted on a verified signing envelope.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
)

// MaxLifetime is the hard ceiling on token lifetime, per spec.
const MaxLifetime = time.Hour

// Binding is what a token resolves to.
type Binding struct {
	Scope     envelope.Scope
	ExpiresAt time.Time
}

// Issuer mints and resolves opaque bearer tokens, mirroring the mutex
// protected in-memory map the teacher's identity keyset uses for signing
// keys, adapted here to opaque random tokens instead of JWTs.
type Issuer struct {
	mu     sync.Mutex
	tokens map[string]Binding
	now    func() time.Time
}

// NewIssuer constructs an empty in-memory token issuer.
func NewIssuer() *Issuer {
	return &Issuer{tokens: make(map[string]Binding), now: time.Now}
}

// WithClock overrides the time source, for tests.
func (iss *Issuer) WithClock(now func() time.Time) *Issuer {
	iss.now = now
	return iss
}

// Issue mints a new token bound to scope, with lifetime capped at
// MaxLifetime. Callers are expected to have already verified a signing
// envelope in the requested scope before calling this.
func (iss *Issuer) Issue(scope envelope.Scope, lifetime time.Duration) (token string, expiresAt time.Time, err error) {
	if !scope.Valid() {
		return "", time.Time{}, fmt.Errorf("session: invalid scope %q", scope)
	}
	if lifetime <= 0 || lifetime > MaxLifetime {
		lifetime = MaxLifetime
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("session: generate token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	expiresAt = iss.now().Add(lifetime)

	iss.mu.Lock()
	iss.tokens[token] = Binding{Scope: scope, ExpiresAt: expiresAt}
	iss.mu.Unlock()

	return token, expiresAt, nil
}

// Resolve returns the binding for token, evicting it first if expired.
// The bool return is false for both "expired" and "unknown" — callers that
// need to distinguish should use ResolveErr.
func (iss *Issuer) Resolve(token string) (Binding, bool) {
	b, err := iss.ResolveErr(token)
	if err != nil {
		return Binding{}, false
	}
	return b, true
}

// ResolveErr returns envelope.ReasonExpiredToken or envelope.ReasonUnknownToken
// wrapped in an *envelope.VerifyError when resolution fails.
func (iss *Issuer) ResolveErr(token string) (Binding, error) {
	iss.mu.Lock()
	defer iss.mu.Unlock()

	b, ok := iss.tokens[token]
	if !ok {
		return Binding{}, &envelope.VerifyError{Reason: envelope.ReasonUnknownToken}
	}
	if iss.now().After(b.ExpiresAt) {
		delete(iss.tokens, token)
		return Binding{}, &envelope.VerifyError{Reason: envelope.ReasonExpiredToken}
	}
	return b, nil
}

// Count reports the number of live tokens, for admin/ops introspection.
func (iss *Issuer) Count() int {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return len(iss.tokens)
}
