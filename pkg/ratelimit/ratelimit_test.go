package ratelimit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/store"
	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

func newMockLimiter(t *testing.T) (*Limiter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	wrapped := &store.DB{DB: db, Backend: store.BackendSQLite}
	return New(wrapped, DefaultCaps()), mock
}

func TestFailsClosedOnBeginTxError(t *testing.T) {
	l, mock := newMockLimiter(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err := l.Check(context.Background(), "actor-1", tiers.ReadOnly)
	require.Error(t, err)
	var rle *ErrRateLimited
	require.ErrorAs(t, err, &rle)
}

func TestWindowStartAlignsToWallClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 30, 45, 0, time.UTC)
	ws := windowStart(now, time.Minute)
	assert.Equal(t, now.Truncate(time.Minute).UnixMilli(), ws)
}

func TestCheckLocksRowsForUpdateOnPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	wrapped := &store.DB{DB: db, Backend: store.BackendPostgres}
	l := New(wrapped, DefaultCaps())

	mock.ExpectBegin()
	for i := 0; i < 6; i++ {
		mock.ExpectQuery("SELECT points FROM rate_limits.*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"points"}))
	}
	for i := 0; i < 6; i++ {
		mock.ExpectExec("ON CONFLICT \\(limiter_type, key, window_start\\) DO UPDATE SET points = rate_limits.points \\+ 1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err = l.Check(context.Background(), "actor-1", tiers.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDoesNotLockRowsOnSQLite(t *testing.T) {
	l, mock := newMockLimiter(t)

	mock.ExpectBegin()
	for i := 0; i < 6; i++ {
		mock.ExpectQuery("SELECT points FROM rate_limits").
			WillReturnRows(sqlmock.NewRows([]string{"points"}))
	}
	for i := 0; i < 6; i++ {
		mock.ExpectExec("ON CONFLICT \\(limiter_type, key, window_start\\) DO UPDATE SET points = points \\+ 1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := l.Check(context.Background(), "actor-1", tiers.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInspectReturnsActorAndActorTierRows(t *testing.T) {
	l, mock := newMockLimiter(t)
	rows := sqlmock.NewRows([]string{"limiter_type", "window_start", "points"}).
		AddRow("actor", int64(1000), int64(3)).
		AddRow("actor-tier", int64(1000), int64(2))
	mock.ExpectQuery("SELECT limiter_type, window_start, points FROM rate_limits").
		WithArgs("actor-1", "actor-1:%").
		WillReturnRows(rows)

	snaps, err := l.Inspect(context.Background(), "actor-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(3), snaps[0].Points)
}
