package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/memory"
	"github.com/avivsinai/telclaude-sub003/pkg/ratelimit"
	"github.com/avivsinai/telclaude-sub003/pkg/store"
)

func newTestDeps(t *testing.T) (*Deps, sqlmock.Sqlmock) {
	t.Helper()
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	wrapped := &store.DB{DB: db, Backend: store.BackendSQLite}

	return &Deps{
		Validator:      NewValidator(ks),
		KeySet:         ks,
		Limiter:        ratelimit.New(wrapped, ratelimit.DefaultCaps()),
		LimiterBackend: "sqlite",
		Memory:         memory.New(wrapped),
	}, mock
}

func operatorToken(t *testing.T, ks *InMemoryKeySet) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"operator"},
	}
	tok, err := ks.Sign(context.Background(), claims)
	require.NoError(t, err)
	return tok
}

func TestHealthDetailRequiresAuth(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := New(deps)

	req := httptest.NewRequest("GET", "/admin/health/detail", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthDetailSucceedsWithValidToken(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := New(deps)
	tok := operatorToken(t, deps.KeySet)

	req := httptest.NewRequest("GET", "/admin/health/detail", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "sqlite", resp.LimiterBackend)
	require.NotEmpty(t, resp.AdminKeyID)
}

func TestKeysRotateChangesCurrentKID(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := New(deps)
	tok := operatorToken(t, deps.KeySet)
	before := deps.KeySet.CurrentKID()

	req := httptest.NewRequest("POST", "/admin/keys/rotate", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEqual(t, before, deps.KeySet.CurrentKID())
}

func TestMemoryPendingReturnsQuarantinedOnly(t *testing.T) {
	deps, mock := newTestDeps(t)
	srv := New(deps)
	tok := operatorToken(t, deps.KeySet)

	rows := sqlmock.NewRows([]string{"id", "category", "content", "source", "trust", "created_at", "promoted_at", "promoted_by", "posted_at", "chat_id"}).
		AddRow("idea-1", "posts", "c", "direct", "quarantined", time.Now().UnixMilli(), nil, nil, nil, nil)
	mock.ExpectQuery("SELECT id, category, content, source, trust, created_at, promoted_at, promoted_by, posted_at, chat_id FROM memory_entries").
		WithArgs(string(memory.TrustQuarantined), memory.MaxLimit).
		WillReturnRows(rows)

	req := httptest.NewRequest("GET", "/admin/memory/pending", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Contains(t, decoded, "pending")
}
