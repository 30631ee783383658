// Package store provides the embedded relational persistence layer: WAL
// mode, idempotent schema creation, and periodic TTL cleanup across every
// TTL'd table. Grounded on core/pkg/store/receipt_store_sqlite.go (migrate
// on construct, modernc.org/sqlite driver) and core/cmd/helm/lite_mode.go
// (DSN/file-mode conventions) for the SQLite backend, and
// core/pkg/store/ledger/sql_ledger.go for the Postgres backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Backend identifies which SQL dialect a Store was opened against, since
// placeholder syntax differs ($1 vs ?).
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// DB wraps a *sql.DB with its backend, so callers can pick the correct
// placeholder style.
type DB struct {
	*sql.DB
	Backend Backend
}

// Placeholder returns the Nth (1-indexed) bind-parameter placeholder for
// this backend.
func (d *DB) Placeholder(n int) string {
	if d.Backend == BackendPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Open opens a database at databaseURL. A "file:" prefix (or a path with no
// scheme) opens SQLite with WAL enabled; a "postgres://" URL opens Postgres.
func Open(databaseURL string) (*DB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		sqlDB, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		return &DB{DB: sqlDB, Backend: BackendPostgres}, nil
	default:
		path := strings.TrimPrefix(databaseURL, "file:")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
		dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		return &DB{DB: sqlDB, Backend: BackendSQLite}, nil
	}
}

// sqliteSchema is translated verbatim for SQLite; postgresSchema swaps
// AUTOINCREMENT/BLOB-ish SQLite idioms for Postgres equivalents. Both are
// idempotent (CREATE TABLE IF NOT EXISTS), run once at startup — no
// migrations, per spec.md §4.J.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_limits (
	limiter_type TEXT NOT NULL,
	key TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (limiter_type, key, window_start)
);
CREATE TABLE IF NOT EXISTS identity_links (
	actor_id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	linked_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_link_codes (
	code TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS circuit_breaker (
	name TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	opened_at INTEGER,
	failure_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS attachment_refs (
	ref TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	filepath TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS memory_entries (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	trust TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	promoted_at INTEGER,
	promoted_by TEXT,
	posted_at INTEGER,
	chat_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_scope ON memory_entries(source, trust, category);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at ON memory_entries(created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_limits (
	limiter_type TEXT NOT NULL,
	key TEXT NOT NULL,
	window_start BIGINT NOT NULL,
	points BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (limiter_type, key, window_start)
);
CREATE TABLE IF NOT EXISTS identity_links (
	actor_id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	linked_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_link_codes (
	code TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS circuit_breaker (
	name TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	opened_at BIGINT,
	failure_count BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS attachment_refs (
	ref TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	filepath TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS memory_entries (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	trust TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	promoted_at BIGINT,
	promoted_by TEXT,
	posted_at BIGINT,
	chat_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_scope ON memory_entries(source, trust, category);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at ON memory_entries(created_at);
`

// Init creates the schema idempotently.
func (d *DB) Init(ctx context.Context) error {
	schema := sqliteSchema
	if d.Backend == BackendPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// CleanupExpired deletes expired rows from every TTL'd table. Intended to
// run on a periodic ticker (see cmd/relay).
func (d *DB) CleanupExpired(ctx context.Context, now time.Time) error {
	nowMs := now.UnixMilli()
	tables := []struct {
		table, col string
	}{
		{"approvals", "expires_at"},
		{"pending_link_codes", "expires_at"},
		{"sessions", "expires_at"},
		{"attachment_refs", "expires_at"},
	}
	for _, t := range tables {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < %s", t.table, t.col, d.Placeholder(1))
		if _, err := d.ExecContext(ctx, q, nowMs); err != nil {
			return fmt.Errorf("store: cleanup %s: %w", t.table, err)
		}
	}
	// rate_limits: prune windows older than an hour for standard limiters,
	// a day for multimedia, per spec.md §4.F. The multimedia dimension is
	// identified by limiter_type prefix "multimedia:".
	hourAgo := now.Add(-time.Hour).UnixMilli()
	dayAgo := now.Add(-24 * time.Hour).UnixMilli()
	if _, err := d.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM rate_limits WHERE limiter_type NOT LIKE 'multimedia:%%' AND window_start < %s", d.Placeholder(1)),
		hourAgo); err != nil {
		return fmt.Errorf("store: cleanup rate_limits: %w", err)
	}
	if _, err := d.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM rate_limits WHERE limiter_type LIKE 'multimedia:%%' AND window_start < %s", d.Placeholder(1)),
		dayAgo); err != nil {
		return fmt.Errorf("store: cleanup multimedia rate_limits: %w", err)
	}
	return nil
}
