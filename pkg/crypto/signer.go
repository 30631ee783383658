// Package crypto provides the signing and verification primitives used to
// authenticate internal requests between the Relay and the Agent.
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm names as carried on the wire in X-Internal-Algorithm.
const (
	AlgorithmEd25519   = "ed25519"
	AlgorithmHMACSHA256 = "hmac-sha256"
)

// Signer produces a detached signature over an arbitrary byte string.
type Signer interface {
	Sign(data []byte) (string, error)
	Algorithm() string
}

// Ed25519Signer signs with a raw Ed25519 private key, emitting base64url
// signatures.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer constructs a signer from a raw 64-byte private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateEd25519Signer creates a new random keypair.
func GenerateEd25519Signer() (*Ed25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, pub, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.priv, data)
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

// HMACSigner signs with a derived HMAC-SHA256 key.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner derives a per-scope MAC key from a root secret via
// HKDF-SHA256, rather than using the root secret directly: a leaked
// derived key never exposes the root secret or a sibling scope's key.
func NewHMACSigner(rootSecret []byte, scope string) (*HMACSigner, error) {
	key, err := DeriveScopeKey(rootSecret, scope)
	if err != nil {
		return nil, err
	}
	return &HMACSigner{key: key}, nil
}

// DeriveScopeKey derives a 32-byte MAC key bound to a scope label.
func DeriveScopeKey(rootSecret []byte, scope string) ([]byte, error) {
	r := hkdf.New(sha256.New, rootSecret, nil, []byte("internal-envelope:"+scope))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive scope key: %w", err)
	}
	return key, nil
}

func (s *HMACSigner) Sign(data []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) Algorithm() string { return AlgorithmHMACSHA256 }

// VerifyEd25519 checks a base64url-encoded Ed25519 signature in constant
// time (ed25519.Verify is itself constant-time over the comparison it
// performs internally).
func VerifyEd25519(pub ed25519.PublicKey, data []byte, sigB64 string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// VerifyHMAC recomputes the HMAC over data with the derived scope key and
// compares against sigB64 in constant time.
func VerifyHMAC(rootSecret []byte, scope string, data []byte, sigB64 string) bool {
	key, err := DeriveScopeKey(rootSecret, scope)
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expected, sig) == 1
}

// SHA256 returns the raw SHA-256 digest of data.
// Used to build the canonical envelope string's body hash component.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
