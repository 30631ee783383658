package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/egress"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
)

func badRequest(reason string) error {
	return newHandlerError(http.StatusBadRequest, reason, reason)
}

func forbidden(reason string) error {
	return newHandlerError(http.StatusForbidden, reason, reason)
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		var zero T
		return zero, badRequest("invalid-argument")
	}
	return v, nil
}

// --- memory.propose ---

type proposeEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Content  string `json:"content"`
	ChatID   string `json:"chatId,omitempty"`
}

type proposeRequest struct {
	Entries []proposeEntry `json:"entries"`
}

func handleMemoryPropose(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	req, err := decode[proposeRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}
	if len(req.Entries) == 0 || len(req.Entries) > memory.MaxProposePerCall {
		return 0, nil, badRequest("too-many-entries")
	}

	inputs := make([]memory.NewEntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		if verr := validateID(e.ID); verr != nil {
			return 0, nil, badRequest("oversize-entry")
		}
		if verr := validateChatID(e.ChatID); verr != nil {
			return 0, nil, badRequest("oversize-entry")
		}
		if verr := ValidateMemoryContent(e.Content); verr != nil {
			return 0, nil, badRequest(verr.(*ErrForbiddenContent).Reason)
		}
		inputs = append(inputs, memory.NewEntryInput{
			ID: e.ID, Category: memory.Category(e.Category), Content: e.Content, ChatID: e.ChatID,
		})
	}

	created, err := deps.Memory.CreateEntries(r.Context(), inputs, rc.Scope)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, "invalid-argument", err.Error())
	}
	return http.StatusOK, map[string]any{"entries": created}, nil
}

// --- memory.snapshot ---

type snapshotRequest struct {
	Categories []string `json:"categories,omitempty"`
	Trust      []string `json:"trust,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	ChatID     string   `json:"chatId,omitempty"`
}

func handleMemorySnapshot(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	req, err := decode[snapshotRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}
	if verr := validateChatID(req.ChatID); verr != nil {
		return 0, nil, badRequest("oversize-entry")
	}

	filter := memory.Filter{Limit: normalizeLimit(req.Limit), ChatID: req.ChatID}
	for _, c := range req.Categories {
		filter.Categories = append(filter.Categories, memory.Category(c))
	}
	for _, t := range req.Trust {
		filter.Trusts = append(filter.Trusts, memory.Trust(t))
	}
	for _, s := range req.Sources {
		filter.Sources = append(filter.Sources, envelope.Scope(s))
	}

	entries, err := deps.Memory.Snapshot(r.Context(), rc.Scope, filter)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusInternalServerError, "unavailable", err.Error())
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return http.StatusOK, entries, nil
}

// --- memory.quarantine ---

type quarantineRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	ChatID  string `json:"chatId,omitempty"`
}

func handleMemoryQuarantine(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	if rc.Scope != envelope.ScopeDirect {
		return 0, nil, forbidden("scope-denied")
	}
	req, err := decode[quarantineRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}
	if verr := validateID(req.ID); verr != nil {
		return 0, nil, badRequest("oversize-entry")
	}
	if verr := ValidateMemoryContent(req.Content); verr != nil {
		return 0, nil, badRequest(verr.(*ErrForbiddenContent).Reason)
	}

	entry, err := deps.Memory.CreateQuarantinedEntry(r.Context(), req.ID, req.Content, req.ChatID)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, "invalid-argument", err.Error())
	}
	return http.StatusOK, entry, nil
}

// --- memory.promote ---

type promoteRequest struct {
	ID string `json:"id"`
}

func handleMemoryPromote(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	if rc.Scope != envelope.ScopeDirect {
		return 0, nil, forbidden("scope-denied")
	}
	req, err := decode[promoteRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}
	if verr := validateID(req.ID); verr != nil {
		return 0, nil, badRequest("oversize-entry")
	}

	entry, err := deps.Memory.PromoteEntryTrust(r.Context(), req.ID, rc.ActorID)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, "invalid-argument", err.Error())
	}
	return http.StatusOK, entry, nil
}

// --- multimedia stubs (tts, image.generate, transcribe) ---

// handleMultimediaStub enforces the feature-keyed multimedia rate limit
// and returns a placeholder acknowledgement; the concrete provider call
// is an external collaborator per spec.md §1's Non-goals (per-provider
// API adapters are out of scope).
func handleMultimediaStub(feature string) Handler {
	return func(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
		if err := deps.Limiter.CheckMultimedia(r.Context(), feature, rc.ActorID); err != nil {
			return 0, nil, newHandlerError(http.StatusTooManyRequests, "rate-limited", err.Error())
		}
		return http.StatusAccepted, map[string]any{"feature": feature, "status": "accepted"}, nil
	}
}

// --- provider.proxy ---

type providerProxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func handleProviderProxy(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	var doc map[string]any
	if err := json.Unmarshal(rc.Body, &doc); err != nil {
		return 0, nil, badRequest("invalid-argument")
	}
	if err := deps.Validator.Validate("provider.proxy", doc); err != nil {
		return 0, nil, badRequest(err.Error())
	}
	req, err := decode[providerProxyRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp, finalURL, release, ferr := deps.Egress.Fetch(ctx, req.URL, egressOptionsFor(req, rc.ActorID))
	if ferr != nil {
		return 0, nil, mapEgressError(ferr)
	}
	defer release()
	defer resp.Body.Close()

	const maxInline = 64 * 1024
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxInline+1))
	inline := string(raw)
	var attRef string
	if len(raw) > maxInline {
		ref, aerr := deps.Attachments.Issue(r.Context(), rc.ActorID, "provider.proxy", finalURL, "response.bin", resp.Header.Get("Content-Type"), 0)
		if aerr == nil {
			attRef = ref
		}
		inline = ""
	}
	redacted, blocked := scanOutboundString(inline)
	if blocked {
		return 0, nil, newHandlerError(http.StatusBadRequest, "infra-secret-detected", "provider response withheld: secret detected")
	}

	return http.StatusOK, map[string]any{
		"statusCode":    resp.StatusCode,
		"finalUrl":      finalURL,
		"body":          redacted,
		"attachmentRef": attRef,
	}, nil
}

func egressOptionsFor(req providerProxyRequest, actorID string) egress.FetchOptions {
	headers := make(http.Header)
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	return egress.FetchOptions{
		MaxRedirects: 3,
		Timeout:      30 * time.Second,
		Method:       req.Method,
		Body:         body,
		Headers:      headers,
		AuditActor:   actorID,
	}
}

func mapEgressError(err error) error {
	return newHandlerError(http.StatusBadGateway, "blocked", fmt.Sprintf("Blocked: %s", err.Error()))
}

// --- session.issue ---

type sessionIssueRequest struct {
	LifetimeSeconds int `json:"lifetimeSeconds,omitempty"`
}

// handleSessionIssue mints a bearer session token bound to the caller's
// scope. Issuance requires a freshly verified signing envelope (spec.md
// §4.C): a caller already holding a session token cannot mint another,
// so rc.ViaSessionToken callers are rejected here regardless of scope.
func handleSessionIssue(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	if rc.ViaSessionToken {
		return 0, nil, forbidden("scope-denied")
	}
	req, err := decode[sessionIssueRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}

	lifetime := time.Duration(req.LifetimeSeconds) * time.Second
	token, expiresAt, serr := deps.Sessions.Issue(rc.Scope, lifetime)
	if serr != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, "invalid-argument", serr.Error())
	}
	return http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// --- deliver-local-file ---

type deliverLocalFileRequest struct {
	Provider string `json:"provider"`
	Filepath string `json:"filepath"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

func handleDeliverLocalFile(r *http.Request, rc RequestContext, deps *Deps) (int, any, error) {
	var doc map[string]any
	if err := json.Unmarshal(rc.Body, &doc); err != nil {
		return 0, nil, badRequest("invalid-argument")
	}
	if err := deps.Validator.Validate("deliver-local-file", doc); err != nil {
		return 0, nil, badRequest(err.Error())
	}
	req, err := decode[deliverLocalFileRequest](rc.Body)
	if err != nil {
		return 0, nil, err
	}

	ref, aerr := deps.Attachments.Issue(r.Context(), rc.ActorID, req.Provider, req.Filepath, req.Filename, req.MimeType, 0)
	if aerr != nil {
		return 0, nil, newHandlerError(http.StatusInternalServerError, "unavailable", aerr.Error())
	}
	return http.StatusOK, map[string]any{"attachmentRef": ref}, nil
}
