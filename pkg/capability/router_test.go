package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/attachment"
	"github.com/avivsinai/telclaude-sub003/pkg/audit"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
	"github.com/avivsinai/telclaude-sub003/pkg/session"
	"github.com/avivsinai/telclaude-sub003/pkg/store"
	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

// passLimiter always admits, isolating router tests from ratelimit's own
// transaction plumbing (covered separately in pkg/ratelimit).
type passLimiter struct{}

func (passLimiter) Check(ctx context.Context, actorID string, tier tiers.Tier) error { return nil }
func (passLimiter) CheckMultimedia(ctx context.Context, feature, actorID string) error {
	return nil
}

func newTestDeps(t *testing.T) (*Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	wrapped := &store.DB{DB: db, Backend: store.BackendSQLite}

	sessions := session.NewIssuer()
	nonces := envelope.NewInMemoryNonceStore(1000)
	verifier := envelope.NewVerifier(map[envelope.Scope]envelope.KeyMaterial{
		envelope.ScopeDirect: {Scope: envelope.ScopeDirect, HMACSecret: []byte("direct-secret")},
		envelope.ScopePublic: {Scope: envelope.ScopePublic, HMACSecret: []byte("public-secret")},
	}, nonces)

	validator, verr := NewValidator()
	require.NoError(t, verr)

	deps := &Deps{
		Verifier:    verifier,
		Sessions:    sessions,
		Memory:      memory.New(wrapped),
		Limiter:     passLimiter{},
		Attachments: attachment.New(wrapped, []byte("att-secret")),
		Validator:   validator,
		Auditor:     audit.NewMemoryLog(),
	}
	return deps, mock
}

func signedRequest(t *testing.T, km envelope.KeyMaterial, method, path string, body []byte) *http.Request {
	t.Helper()
	h, err := envelope.Sign(km, method, path, body, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	h.Apply(req)
	return req
}

func TestMemoryQuarantineRejectsPublicScope(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	body := []byte(`{"id":"idea-1","content":"a new idea"}`)
	req := signedRequest(t, envelope.KeyMaterial{Scope: envelope.ScopePublic, HMACSecret: []byte("public-secret")}, "POST", "/v1/memory.quarantine", body)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	entries, err := deps.Auditor.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "capability.scope_denied", entries[0].Action)
	require.Equal(t, "/v1/memory.quarantine", entries[0].Payload["path"])
}

func TestMemoryProposeRejectsHTMLContent(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	body := []byte(`{"entries":[{"id":"e1","category":"meta","content":"<script>alert(1)</script>"}]}`)
	req := signedRequest(t, envelope.KeyMaterial{Scope: envelope.ScopeDirect, HMACSecret: []byte("direct-secret")}, "POST", "/v1/memory.propose", body)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoryProposeSucceedsForDirectScope(t *testing.T) {
	deps, mock := newTestDeps(t)
	mock.ExpectExec("INSERT INTO memory_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	rt := New(deps)

	body := []byte(`{"entries":[{"id":"e1","category":"meta","content":"hello"}]}`)
	req := signedRequest(t, envelope.KeyMaterial{Scope: envelope.ScopeDirect, HMACSecret: []byte("direct-secret")}, "POST", "/v1/memory.propose", body)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Contains(t, decoded, "entries")
}

func TestUnknownPathReturns404(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	req := httptest.NewRequest("POST", "/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionIssueSucceedsViaSignedEnvelope(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	body := []byte(`{}`)
	req := signedRequest(t, envelope.KeyMaterial{Scope: envelope.ScopeDirect, HMACSecret: []byte("direct-secret")}, "POST", "/v1/session.issue", body)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.NotEmpty(t, decoded["token"])
	require.NotEmpty(t, decoded["expiresAt"])
}

func TestSessionIssueRejectsSessionTokenBearer(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	token, _, err := deps.Sessions.Issue(envelope.ScopeDirect, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/session.issue", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestMissingEnvelopeIsUnauthorized(t *testing.T) {
	deps, mock := newTestDeps(t)
	_ = mock
	rt := New(deps)

	req := httptest.NewRequest("POST", "/v1/memory.snapshot", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
