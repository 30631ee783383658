// Package envelope implements the scoped internal authentication envelope:
// signed (method, path, body, timestamp, nonce, scope) tuples exchanged
// between the Relay and the Agent.
package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	icrypto "github.com/avivsinai/telclaude-sub003/pkg/crypto"
)

// Scope is the enumerated trust domain carried on every internal request.
type Scope string

const (
	ScopeDirect Scope = "direct"
	ScopePublic Scope = "public"
)

func (s Scope) Valid() bool { return s == ScopeDirect || s == ScopePublic }

const (
	HeaderTimestamp = "X-Internal-Timestamp"
	HeaderNonce     = "X-Internal-Nonce"
	HeaderScope     = "X-Internal-Scope"
	HeaderAlgorithm = "X-Internal-Algorithm"
	HeaderSignature = "X-Internal-Signature"
)

// SkewTolerance is the maximum allowed difference between the envelope
// timestamp and wall-clock time.
const SkewTolerance = 5 * time.Minute

// RejectReason is a categorical verification failure. Never invent new
// strings outside this set — callers branch on it.
type RejectReason string

const (
	ReasonMissing      RejectReason = "missing"
	ReasonStale        RejectReason = "stale"
	ReasonReplay       RejectReason = "replay"
	ReasonBadSignature RejectReason = "bad-sig"
	ReasonUnknownScope RejectReason = "unknown-scope"
	ReasonExpiredToken RejectReason = "expired"
	ReasonUnknownToken RejectReason = "unknown-token"
)

// VerifyError wraps a categorical rejection reason.
type VerifyError struct {
	Reason RejectReason
}

func (e *VerifyError) Error() string { return "envelope: " + string(e.Reason) }

func reject(reason RejectReason) error { return &VerifyError{Reason: reason} }

// RejectReasonOf extracts the categorical reason from err, if any.
func RejectReasonOf(err error) (RejectReason, bool) {
	ve, ok := err.(*VerifyError)
	if !ok {
		return "", false
	}
	return ve.Reason, true
}

// KeyMaterial holds, for a single scope, the signing side (Agent) and/or
// verifying side (Relay) key material. A deployment populates only the
// fields relevant to the process it runs in.
type KeyMaterial struct {
	Scope Scope

	Ed25519Private ed25519.PrivateKey // signer side, may be nil
	Ed25519Public  ed25519.PublicKey  // verifier side, may be nil

	HMACSecret []byte // shared secret, legacy path
}

func (k KeyMaterial) hasEd25519() bool { return len(k.Ed25519Public) > 0 }
func (k KeyMaterial) hasHMAC() bool    { return len(k.HMACSecret) > 0 }

// Canonical builds the exact byte string that gets signed:
// method\npath\ntimestamp\nnonce\nscope\nSHA256(body) hex.
func Canonical(method, path string, timestampMs int64, nonce string, scope Scope, body []byte) []byte {
	sum := icrypto.SHA256(body)
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte('\n')
	sb.WriteString(path)
	sb.WriteByte('\n')
	sb.WriteString(strconv.FormatInt(timestampMs, 10))
	sb.WriteByte('\n')
	sb.WriteString(nonce)
	sb.WriteByte('\n')
	sb.WriteString(string(scope))
	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf("%x", sum))
	return []byte(sb.String())
}

// Headers is the set of headers a signed request carries.
type Headers struct {
	Timestamp int64
	Nonce     string
	Scope     Scope
	Algorithm string
	Signature string
}

// Apply sets the envelope headers on an outgoing request.
func (h Headers) Apply(req *http.Request) {
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(h.Timestamp, 10))
	req.Header.Set(HeaderNonce, h.Nonce)
	req.Header.Set(HeaderScope, string(h.Scope))
	req.Header.Set(HeaderAlgorithm, h.Algorithm)
	req.Header.Set(HeaderSignature, h.Signature)
}

// Sign produces envelope headers for (method, path, body) under the given
// key material's scope. Ed25519 is preferred when present; HMAC is the
// legacy fallback.
func Sign(km KeyMaterial, method, path string, body []byte, now time.Time) (Headers, error) {
	nonceRaw := make([]byte, 16)
	if _, err := rand.Read(nonceRaw); err != nil {
		return Headers{}, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceRaw)
	tsMs := now.UnixMilli()
	canon := Canonical(method, path, tsMs, nonce, km.Scope, body)

	var sig string
	var alg string
	var err error
	switch {
	case len(km.Ed25519Private) > 0:
		signer := icrypto.NewEd25519Signer(km.Ed25519Private)
		sig, err = signer.Sign(canon)
		alg = icrypto.AlgorithmEd25519
	case km.hasHMAC():
		signer, derr := icrypto.NewHMACSigner(km.HMACSecret, string(km.Scope))
		if derr != nil {
			return Headers{}, derr
		}
		sig, err = signer.Sign(canon)
		alg = icrypto.AlgorithmHMACSHA256
	default:
		return Headers{}, fmt.Errorf("envelope: no signing key material for scope %q", km.Scope)
	}
	if err != nil {
		return Headers{}, err
	}

	return Headers{Timestamp: tsMs, Nonce: nonce, Scope: km.Scope, Algorithm: alg, Signature: sig}, nil
}

// NonceStore remembers nonces within a window, purged lazily.
type NonceStore interface {
	// SeenOrRemember returns true if nonce was already present; otherwise
	// it records it with the given expiry and returns false.
	SeenOrRemember(nonce string, expiresAt time.Time) bool
}

// Verifier checks incoming envelopes against a set of per-scope key
// material.
type Verifier struct {
	keys  map[Scope]KeyMaterial
	nonce NonceStore
	now   func() time.Time
}

// NewVerifier constructs a Verifier over the given per-scope key material.
func NewVerifier(keys map[Scope]KeyMaterial, nonce NonceStore) *Verifier {
	return &Verifier{keys: keys, nonce: nonce, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Result is the outcome of a successful verification.
type Result struct {
	Scope Scope
}

// VerifyHeaders verifies a signed envelope given its headers and raw body.
// Raw body must be byte-exact as received — callers must not re-serialize.
func (v *Verifier) VerifyHeaders(method, path string, body []byte, h Headers) (*Result, error) {
	if h.Timestamp == 0 || h.Nonce == "" || h.Scope == "" || h.Algorithm == "" || h.Signature == "" {
		return nil, reject(ReasonMissing)
	}
	if !h.Scope.Valid() {
		return nil, reject(ReasonUnknownScope)
	}

	now := v.now()
	ts := time.UnixMilli(h.Timestamp)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > SkewTolerance {
		return nil, reject(ReasonStale)
	}

	km, ok := v.keys[h.Scope]
	if !ok {
		return nil, reject(ReasonUnknownScope)
	}

	expiresAt := now.Add(2 * SkewTolerance)
	if v.nonce != nil && v.nonce.SeenOrRemember(h.Nonce, expiresAt) {
		return nil, reject(ReasonReplay)
	}

	canon := Canonical(method, path, h.Timestamp, h.Nonce, h.Scope, body)

	var ok2 bool
	switch h.Algorithm {
	case icrypto.AlgorithmEd25519:
		if !km.hasEd25519() {
			return nil, reject(ReasonBadSignature)
		}
		ok2 = icrypto.VerifyEd25519(km.Ed25519Public, canon, h.Signature)
	case icrypto.AlgorithmHMACSHA256:
		if !km.hasHMAC() {
			return nil, reject(ReasonBadSignature)
		}
		ok2 = icrypto.VerifyHMAC(km.HMACSecret, string(h.Scope), canon, h.Signature)
	default:
		return nil, reject(ReasonUnknownScope)
	}
	if !ok2 {
		return nil, reject(ReasonBadSignature)
	}

	return &Result{Scope: h.Scope}, nil
}

// HeadersFromRequest extracts envelope headers from an *http.Request.
func HeadersFromRequest(r *http.Request) Headers {
	ts, _ := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	return Headers{
		Timestamp: ts,
		Nonce:     r.Header.Get(HeaderNonce),
		Scope:     Scope(r.Header.Get(HeaderScope)),
		Algorithm: r.Header.Get(HeaderAlgorithm),
		Signature: r.Header.Get(HeaderSignature),
	}
}
