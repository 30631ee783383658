// Package capability implements the Relay's capability RPC router: a
// table of (method, path, allowedScopes, handler) matched in request
// order, with envelope/session auth, rate limiting, and scope gating
// run ahead of every handler. Grounded on core/pkg/firewall/firewall.go's
// PolicyFirewall (allowlist-then-schema-then-dispatch shape, fail-closed
// on an unconfigured dispatcher) generalized from a single tool-call gate
// to a full HTTP route table, per spec.md §9's redesign note replacing
// dynamic dispatch with an explicit match function.
package capability

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/api"
	"github.com/avivsinai/telclaude-sub003/pkg/attachment"
	"github.com/avivsinai/telclaude-sub003/pkg/audit"
	"github.com/avivsinai/telclaude-sub003/pkg/egress"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/filter"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
	"github.com/avivsinai/telclaude-sub003/pkg/ratelimit"
	"github.com/avivsinai/telclaude-sub003/pkg/session"
	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

// RequestContext is the small context struct every handler receives,
// per spec.md §9: (scope, actorId, body, store, limiter, egress).
type RequestContext struct {
	Scope   envelope.Scope
	ActorID string
	Tier    tiers.Tier
	Body    []byte

	// ViaSessionToken is true when auth resolved through a bearer session
	// token rather than a freshly verified signing envelope. A session
	// token holder may call capabilities in its bound scope but can never
	// mint further tokens (spec.md §4.C), so session.issue rejects it.
	ViaSessionToken bool
}

// Handler executes one capability and returns a JSON-serializable result
// or an *api.ErrorBody-producing error.
type Handler func(r *http.Request, rc RequestContext, deps *Deps) (status int, result any, err error)

// Route is one entry of the router's dispatch table.
type Route struct {
	Method        string
	Path          string
	AllowedScopes []envelope.Scope
	Handler       Handler
}

func scopeAllowed(allowed []envelope.Scope, s envelope.Scope) bool {
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

// Deps is the explicit service registry built at startup and threaded
// through every handler, replacing module-level singletons (spec.md §9).
type Deps struct {
	Verifier    *envelope.Verifier
	Sessions    *session.Issuer
	Memory      *memory.Store
	Limiter     ratelimit.Store
	Egress      *egress.Guard
	Attachments *attachment.Issuer
	Validator   *Validator
	Auditor     audit.Log // optional; nil disables audit recording of scope denials
	Now         func() time.Time
}

// Router dispatches capability requests through the ordered gate:
// auth -> rate limit -> scope gate -> handler.
type Router struct {
	routes []Route
	deps   *Deps
}

// New builds a Router with the fixed set of capability routes.
func New(deps *Deps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Router{deps: deps, routes: defaultRoutes()}
}

func defaultRoutes() []Route {
	return []Route{
		{"POST", "/v1/memory.propose", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleMemoryPropose},
		{"POST", "/v1/memory.snapshot", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleMemorySnapshot},
		{"POST", "/v1/memory.quarantine", []envelope.Scope{envelope.ScopeDirect}, handleMemoryQuarantine},
		{"POST", "/v1/memory.promote", []envelope.Scope{envelope.ScopeDirect}, handleMemoryPromote},
		{"POST", "/v1/tts", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleMultimediaStub("tts")},
		{"POST", "/v1/image.generate", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleMultimediaStub("image-gen")},
		{"POST", "/v1/transcribe", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleMultimediaStub("transcription")},
		{"POST", "/v1/provider.proxy", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleProviderProxy},
		{"POST", "/v1/deliver-local-file", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleDeliverLocalFile},
		{"POST", "/v1/session.issue", []envelope.Scope{envelope.ScopeDirect, envelope.ScopePublic}, handleSessionIssue},
	}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var matched *Route
	for i := range rt.routes {
		if rt.routes[i].Path == req.URL.Path && rt.routes[i].Method == req.Method {
			matched = &rt.routes[i]
			break
		}
	}
	if matched == nil {
		api.WriteCapabilityError(w, http.StatusNotFound, "not-found", "no such capability")
		return
	}

	body, scope, actorID, viaToken, authErr := rt.authenticate(req)
	api.SetScope(req.Context(), string(scope))
	api.SetActor(req.Context(), actorID)
	if authErr != nil {
		if he, ok := authErr.(*handlerError); ok {
			api.WriteCapabilityError(w, he.status, he.code, he.msg)
			return
		}
		status, code := authStatus(authErr)
		api.WriteCapabilityError(w, status, code, authErr.Error())
		return
	}

	tier := tiers.ReadOnly
	if scope == envelope.ScopePublic {
		tier = tiers.PublicSocial
	}
	if err := rt.deps.Limiter.Check(req.Context(), actorID, tier); err != nil {
		api.WriteTooManyRequests(w, retryAfterSeconds(err))
		return
	}

	if !scopeAllowed(matched.AllowedScopes, scope) {
		if rt.deps.Auditor != nil {
			_, _ = rt.deps.Auditor.Append(req.Context(), actorID, "capability.scope_denied", map[string]any{
				"path":  matched.Path,
				"scope": string(scope),
			})
		}
		api.WriteForbidden(w, "scope-denied", "scope not permitted for this capability")
		return
	}

	rc := RequestContext{Scope: scope, ActorID: actorID, Tier: tier, Body: body, ViaSessionToken: viaToken}
	status, result, err := matched.Handler(req, rc, rt.deps)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

// authenticate resolves either a signed envelope or a bearer session
// token into (scope, actorID). Actor identity for internal RPC calls is
// carried in the JSON body's "actorId" field when present, then its
// "userId" field, falling back to a scope-derived pseudo-actor so rate
// limiting always has a key —
// the envelope itself authenticates scope only, never caller identity
// (spec.md §3's Session token entity carries (scope, expiresAt) alone).
func (rt *Router) authenticate(req *http.Request) (body []byte, scope envelope.Scope, actorID string, viaSessionToken bool, err error) {
	body, err = readBody(req)
	if err != nil {
		return nil, "", "", false, err
	}

	if bearer, ok := bearerToken(req); ok {
		binding, rerr := rt.deps.Sessions.ResolveErr(bearer)
		if rerr != nil {
			return nil, "", "", false, rerr
		}
		scope = binding.Scope
		viaSessionToken = true
	} else {
		h := envelope.HeadersFromRequest(req)
		result, verr := rt.deps.Verifier.VerifyHeaders(req.Method, req.URL.Path, body, h)
		if verr != nil {
			return nil, "", "", false, verr
		}
		scope = result.Scope
	}

	actorID = extractActorID(body, scope)
	return body, scope, actorID, viaSessionToken, nil
}

func extractActorID(body []byte, scope envelope.Scope) string {
	var probe struct {
		ActorID string `json:"actorId"`
		UserID  string `json:"userId"`
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &probe)
	}
	if probe.ActorID != "" {
		return probe.ActorID
	}
	if probe.UserID != "" {
		return probe.UserID
	}
	return "scope:" + string(scope)
}

// maxBodyBytes caps request bodies for capability calls, matching the
// agent server's own AGENT_MAX_BODY_BYTES default.
const maxBodyBytes = 262144

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	limited := io.LimitReader(req.Body, maxBodyBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, newHandlerError(http.StatusBadRequest, "invalid-argument", "failed to read request body")
	}
	if len(buf) > maxBodyBytes {
		return nil, newHandlerError(http.StatusRequestEntityTooLarge, "invalid-argument", "request body too large")
	}
	return buf, nil
}

func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

func authStatus(err error) (int, string) {
	reason, _ := envelope.RejectReasonOf(err)
	switch reason {
	case envelope.ReasonExpiredToken:
		return http.StatusUnauthorized, "token-expired"
	case envelope.ReasonUnknownToken:
		return http.StatusUnauthorized, "unknown-scope"
	case envelope.ReasonStale:
		return http.StatusUnauthorized, "stale-timestamp"
	case envelope.ReasonReplay:
		return http.StatusUnauthorized, "replay"
	case envelope.ReasonBadSignature:
		return http.StatusUnauthorized, "bad-signature"
	case envelope.ReasonUnknownScope:
		return http.StatusUnauthorized, "unknown-scope"
	default:
		return http.StatusUnauthorized, "missing-headers"
	}
}

// handlerError carries an HTTP status + errorCode from a handler up to
// the response writer.
type handlerError struct {
	status int
	code   string
	msg    string
}

func (e *handlerError) Error() string { return e.msg }

func newHandlerError(status int, code, msg string) error {
	return &handlerError{status: status, code: code, msg: msg}
}

func writeHandlerError(w http.ResponseWriter, err error) {
	if he, ok := err.(*handlerError); ok {
		api.WriteCapabilityError(w, he.status, he.code, he.msg)
		return
	}
	api.WriteInternal(w, err)
}

// retryAfterSeconds extracts the suggested retry delay from a rate-limit
// error, defaulting to 1s for errors that don't carry one.
func retryAfterSeconds(err error) int {
	if rle, ok := err.(*ratelimit.ErrRateLimited); ok {
		if secs := int(rle.RetryIn.Seconds()); secs > 0 {
			return secs
		}
	}
	return 1
}

// scanOutboundString applies the secret filter to any text field the handler
// is about to return to the caller, per spec.md §4.D ("every boundary
// that emits text outward").
func scanOutboundString(s string) (string, bool) {
	redacted, blocked, _ := filter.FilterOutbound(s)
	return redacted, blocked
}
