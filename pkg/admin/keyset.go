// Package admin implements the ops/admin console: a small HTTP surface,
// disjoint from the capability router, for human operators. Every path
// requires a Bearer JWT (EdDSA) issued out of band; the console never
// accepts internal scope envelopes and internal callers never accept
// admin JWTs — distinct verifier types, no shared parsing path, per
// SPEC_FULL.md §4.K.
package admin

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages active signing keys and verification of past keys,
// supporting rotation without downtime. Grounded on
// core/pkg/identity/keyset.go's KeySet/InMemoryKeySet.
type KeySet interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
	Rotate() (string, error)
}

// InMemoryKeySet holds Ed25519 signing keys in memory, keyed by kid, with
// a simple bounded-size eviction policy on rotation.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
	maxKeys    int
}

// NewInMemoryKeySet builds a KeySet with one initial key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey), maxKeys: 10}
	if _, err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a new signing key, makes it current, and evicts the
// oldest key once the retained set exceeds maxKeys. Returns the new kid.
func (ks *InMemoryKeySet) Rotate() (string, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("admin: generate key: %w", err)
	}
	kid := fmt.Sprintf("admin-key-%d", time.Now().UnixNano())
	ks.keys[kid] = priv
	ks.currentKID = kid

	if len(ks.keys) > ks.maxKeys {
		// kids embed a fixed-width UnixNano stamp, so the smallest is the oldest.
		oldest := ""
		for k := range ks.keys {
			if k != kid && (oldest == "" || k < oldest) {
				oldest = k
			}
		}
		delete(ks.keys, oldest)
	}
	return kid, nil
}

// Sign signs claims with the current key.
func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.currentKID
	key := ks.keys[kid]
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("admin: no active signing key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// KeyFunc resolves the verification key by kid from the token header,
// honoring retained past keys so tokens signed before a rotation still
// validate until they are evicted.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("admin: unexpected signing method %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("admin: missing kid in token header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, ok := ks.keys[kid]
		if !ok {
			return nil, fmt.Errorf("admin: unknown kid %s", kid)
		}
		return key.Public(), nil
	}
}

// StaticKeySet verifies admin JWTs against a single externally-provisioned
// Ed25519 public key instead of minting its own. It is the counterpart to
// InMemoryKeySet for deployments where an operator's own infrastructure
// issues Bearer tokens out of band (ADMIN_JWT_PUBLIC_KEY) — this process
// never holds the matching private key, so Sign and Rotate are unsupported.
type StaticKeySet struct {
	pub ed25519.PublicKey
}

// NewStaticKeySet builds a verify-only KeySet from a single Ed25519 public key.
func NewStaticKeySet(pub ed25519.PublicKey) *StaticKeySet {
	return &StaticKeySet{pub: pub}
}

// LoadStaticKeySetFile reads a hex-encoded Ed25519 public key from path, the
// format ADMIN_JWT_PUBLIC_KEY points at, matching the hex convention the
// envelope package's own key material uses.
func LoadStaticKeySetFile(path string) (*StaticKeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("admin: read admin JWT public key: %w", err)
	}
	pub, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("admin: decode admin JWT public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("admin: admin JWT public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return NewStaticKeySet(ed25519.PublicKey(pub)), nil
}

// Sign always fails: a StaticKeySet never holds a private key.
func (ks *StaticKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	return "", fmt.Errorf("admin: static keyset cannot sign; admin tokens are issued out of band")
}

// KeyFunc verifies against the single configured public key, regardless of
// any kid header the token carries.
func (ks *StaticKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("admin: unexpected signing method %v", token.Header["alg"])
		}
		return ks.pub, nil
	}
}

// Rotate always fails: rotating a StaticKeySet means replacing
// ADMIN_JWT_PUBLIC_KEY and restarting the process.
func (ks *StaticKeySet) Rotate() (string, error) {
	return "", fmt.Errorf("admin: static keyset cannot rotate; replace ADMIN_JWT_PUBLIC_KEY and restart")
}

// CurrentKID returns the active signing key's id, for health reporting.
func (ks *InMemoryKeySet) CurrentKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.currentKID
}

// KeyCount returns the number of retained keys (current + not-yet-evicted).
func (ks *InMemoryKeySet) KeyCount() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}
