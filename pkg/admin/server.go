package admin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/avivsinai/telclaude-sub003/pkg/api"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
	"github.com/avivsinai/telclaude-sub003/pkg/ratelimit"
)

// NonceSizer reports the current size of a nonce cache, for health
// reporting without exposing the nonces themselves.
type NonceSizer interface {
	Size() int
}

// Deps is the explicit service registry for the admin console.
type Deps struct {
	Validator      *Validator
	KeySet         *InMemoryKeySet
	DirectKey      envelope.KeyMaterial
	PublicKey      envelope.KeyMaterial
	Nonces         NonceSizer
	Limiter        ratelimit.Inspector
	LimiterBackend string
	Memory         *memory.Store
}

// Server is the ops/admin console's HTTP handler.
type Server struct {
	mux *http.ServeMux
}

// New builds a Server wrapping every route with RequireOperator.
func New(deps *Deps) *Server {
	mux := http.NewServeMux()
	mux.Handle("/admin/health/detail", RequireOperator(deps.Validator, http.HandlerFunc(deps.handleHealthDetail)))
	mux.Handle("/admin/ratelimits/", RequireOperator(deps.Validator, http.HandlerFunc(deps.handleRateLimits)))
	mux.Handle("/admin/memory/pending", RequireOperator(deps.Validator, http.HandlerFunc(deps.handleMemoryPending)))
	mux.Handle("/admin/keys/rotate", RequireOperator(deps.Validator, http.HandlerFunc(deps.handleKeysRotate)))
	return &Server{mux: mux}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// fingerprint returns a short, non-reversible identifier for key material
// suitable for operator display — never the key itself.
func fingerprint(keyMaterial []byte) string {
	if len(keyMaterial) == 0 {
		return ""
	}
	sum := sha256.Sum256(keyMaterial)
	return hex.EncodeToString(sum[:8])
}

type healthDetailResponse struct {
	DirectKeyFingerprint string `json:"directKeyFingerprint"`
	PublicKeyFingerprint string `json:"publicKeyFingerprint"`
	NonceCacheSize       int    `json:"nonceCacheSize"`
	LimiterBackend       string `json:"limiterBackend"`
	AdminKeyID           string `json:"adminKeyId"`
	AdminKeyCount        int    `json:"adminKeyCount"`
}

func (d *Deps) directKeyBytes() []byte {
	if len(d.DirectKey.HMACSecret) > 0 {
		return d.DirectKey.HMACSecret
	}
	return d.DirectKey.Ed25519Public
}

func (d *Deps) publicKeyBytes() []byte {
	if len(d.PublicKey.HMACSecret) > 0 {
		return d.PublicKey.HMACSecret
	}
	return d.PublicKey.Ed25519Public
}

func (d *Deps) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	nonceSize := 0
	if d.Nonces != nil {
		nonceSize = d.Nonces.Size()
	}
	resp := healthDetailResponse{
		DirectKeyFingerprint: fingerprint(d.directKeyBytes()),
		PublicKeyFingerprint: fingerprint(d.publicKeyBytes()),
		NonceCacheSize:       nonceSize,
		LimiterBackend:       d.LimiterBackend,
	}
	if d.KeySet != nil {
		resp.AdminKeyID = d.KeySet.CurrentKID()
		resp.AdminKeyCount = d.KeySet.KeyCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Deps) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	actor := strings.TrimPrefix(r.URL.Path, "/admin/ratelimits/")
	if actor == "" {
		api.WriteBadRequest(w, "invalid-argument", "actor id is required")
		return
	}
	if d.Limiter == nil {
		api.WriteCapabilityError(w, http.StatusServiceUnavailable, "unavailable", "rate limiter not configured for inspection")
		return
	}
	snaps, err := d.Limiter.Inspect(r.Context(), actor)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if snaps == nil {
		snaps = []ratelimit.CounterSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actorId": actor, "counters": snaps})
}

func (d *Deps) handleMemoryPending(w http.ResponseWriter, r *http.Request) {
	entries, err := d.Memory.Snapshot(r.Context(), envelope.ScopeDirect, memory.Filter{
		Trusts: []memory.Trust{memory.TrustQuarantined},
		Limit:  memory.MaxLimit,
	})
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": entries})
}

func (d *Deps) handleKeysRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteCapabilityError(w, http.StatusMethodNotAllowed, "invalid-argument", "POST required")
		return
	}
	if d.KeySet == nil {
		api.WriteCapabilityError(w, http.StatusServiceUnavailable, "unavailable", "admin keyset not configured")
		return
	}
	kid, err := d.KeySet.Rotate()
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotatedTo": kid})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
