package attachment

import (
	"context"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/store"
)

func newMockIssuer(t *testing.T) (*Issuer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	wrapped := &store.DB{DB: db, Backend: store.BackendSQLite}
	iss := New(wrapped, []byte("test-attachment-secret"))
	iss.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return iss, mock
}

func TestIssueProducesGrammarConformingRef(t *testing.T) {
	iss, mock := newMockIssuer(t)
	mock.ExpectExec("INSERT INTO attachment_refs").WillReturnResult(sqlmock.NewResult(0, 1))

	ref, err := iss.Issue(context.Background(), "actor-1", "telegram", "/tmp/x.png", "x.png", "image/png", 0)
	require.NoError(t, err)

	parsed, err := Parse(ref)
	require.NoError(t, err)
	require.Len(t, parsed.ID, 8)
	require.Len(t, parsed.Sig, 16)
}

func TestParseRejectsMalformedRef(t *testing.T) {
	_, err := Parse("not-a-ref")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestResolveRejectsActorMismatch(t *testing.T) {
	iss, mock := newMockIssuer(t)
	mock.ExpectExec("INSERT INTO attachment_refs").WillReturnResult(sqlmock.NewResult(0, 1))
	ref, err := iss.Issue(context.Background(), "actor-1", "telegram", "/tmp/x.png", "x.png", "image/png", time.Minute)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"ref", "actor_id", "provider", "filepath", "filename", "mime_type", "expires_at"}).
		AddRow(ref, "actor-1", "telegram", "/tmp/x.png", "x.png", "image/png", iss.now().Add(time.Minute).UnixMilli())
	mock.ExpectQuery("SELECT ref, actor_id, provider, filepath, filename, mime_type, expires_at FROM attachment_refs WHERE ref").
		WillReturnRows(rows)

	_, err = iss.Resolve(context.Background(), ref, "actor-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRejectsExpiredRef(t *testing.T) {
	iss, mock := newMockIssuer(t)
	past := iss.now().Add(-time.Hour)
	iss.now = func() time.Time { return past }

	mock.ExpectExec("INSERT INTO attachment_refs").WillReturnResult(sqlmock.NewResult(0, 1))
	ref, err := iss.Issue(context.Background(), "actor-1", "telegram", "/tmp/x.png", "x.png", "image/png", time.Minute)
	require.NoError(t, err)

	iss.now = func() time.Time { return past.Add(2 * time.Hour) }
	_, err = iss.Resolve(context.Background(), ref, "actor-1")
	require.ErrorIs(t, err, ErrExpired)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	key, err := fs.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)

	data, err := fs.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	_, err = os.Stat(dir)
	require.NoError(t, err)
}
