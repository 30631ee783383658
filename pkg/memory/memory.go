// Package memory implements the provenance-stamped memory entry store.
// Provenance is authoritative: insertion derives trust from source, and
// promotion is a strict one-way transition gated on (source, category,
// trust). Grounded on core/pkg/store/receipt_store_sqlite.go's query/scan
// helper shape; the provenance state machine itself has no teacher analog
// and is built directly from spec.md §4.I.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/store"
)

// Category is one of the fixed memory-entry categories.
type Category string

const (
	CategoryProfile   Category = "profile"
	CategoryInterests Category = "interests"
	CategoryThreads   Category = "threads"
	CategoryPosts     Category = "posts"
	CategoryMeta      Category = "meta"
)

// Trust is the provenance trust level.
type Trust string

const (
	TrustTrusted     Trust = "trusted"
	TrustQuarantined Trust = "quarantined"
	TrustUntrusted   Trust = "untrusted"
)

const (
	MaxContentLen = 500
	MaxIDLen      = 128
	MaxChatIDLen  = 64
	DefaultLimit  = 200
	MaxLimit      = 500
)

// Entry is one memory row.
type Entry struct {
	ID          string     `json:"id"`
	Category    Category   `json:"category"`
	Content     string     `json:"content"`
	Source      envelope.Scope `json:"source"`
	Trust       Trust      `json:"trust"`
	CreatedAt   time.Time  `json:"createdAt"`
	PromotedAt  *time.Time `json:"promotedAt,omitempty"`
	PromotedBy  string     `json:"promotedBy,omitempty"`
	PostedAt    *time.Time `json:"postedAt,omitempty"`
	ChatID      string     `json:"chatId,omitempty"`
}

// NewEntryInput is what a caller supplies to createEntries.
type NewEntryInput struct {
	ID       string
	Category Category
	Content  string
	ChatID   string
}

var (
	ErrOversizeEntry      = fmt.Errorf("memory: entry exceeds size limits")
	ErrTooManyEntries     = fmt.Errorf("memory: too many entries in one call")
	ErrNotFound           = fmt.Errorf("memory: entry not found")
	ErrPromotionInvalid   = fmt.Errorf("memory: promotion requires source=direct, category=posts, trust=quarantined")
)

const MaxProposePerCall = 5

// Store is the memory entry persistence and provenance-enforcement layer.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// New constructs a memory Store over db.
func New(db *store.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateEntries validates and inserts up to MaxProposePerCall entries,
// stamping createdAt and deriving trust from source:
// direct -> trusted, public -> untrusted.
func (s *Store) CreateEntries(ctx context.Context, inputs []NewEntryInput, source envelope.Scope) ([]Entry, error) {
	if len(inputs) > MaxProposePerCall {
		return nil, ErrTooManyEntries
	}
	trust := TrustUntrusted
	if source == envelope.ScopeDirect {
		trust = TrustTrusted
	}

	now := s.now()
	var out []Entry
	for _, in := range inputs {
		if len(in.Content) > MaxContentLen || len(in.ID) > MaxIDLen || len(in.ChatID) > MaxChatIDLen {
			return nil, ErrOversizeEntry
		}
		e := Entry{
			ID: in.ID, Category: in.Category, Content: in.Content,
			Source: source, Trust: trust, CreatedAt: now, ChatID: in.ChatID,
		}
		if err := s.insert(ctx, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateQuarantinedEntry forces source=direct, category=posts,
// trust=quarantined, per spec.md §4.I.
func (s *Store) CreateQuarantinedEntry(ctx context.Context, id, content, chatID string) (Entry, error) {
	if len(content) > MaxContentLen || len(id) > MaxIDLen {
		return Entry{}, ErrOversizeEntry
	}
	e := Entry{
		ID: id, Category: CategoryPosts, Content: content,
		Source: envelope.ScopeDirect, Trust: TrustQuarantined,
		CreatedAt: s.now(), ChatID: chatID,
	}
	if err := s.insert(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// PromoteEntryTrust promotes a quarantined direct/posts entry to trusted.
// Succeeds only when the row's existing (source, category, trust) match
// exactly; otherwise returns ErrPromotionInvalid. A second call against an
// already-trusted row also returns ErrPromotionInvalid and leaves the row
// unchanged.
func (s *Store) PromoteEntryTrust(ctx context.Context, id, actor string) (Entry, error) {
	e, err := s.getByID(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if e.Trust == TrustTrusted {
		return Entry{}, ErrPromotionInvalid
	}
	if e.Source != envelope.ScopeDirect || e.Category != CategoryPosts || e.Trust != TrustQuarantined {
		return Entry{}, ErrPromotionInvalid
	}
	now := s.now()
	q := fmt.Sprintf("UPDATE memory_entries SET trust = %s, promoted_at = %s, promoted_by = %s WHERE id = %s",
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3), s.db.Placeholder(4))
	if _, err := s.db.ExecContext(ctx, q, string(TrustTrusted), now.UnixMilli(), actor, id); err != nil {
		return Entry{}, fmt.Errorf("memory: promote: %w", err)
	}
	e.Trust = TrustTrusted
	e.PromotedAt = &now
	e.PromotedBy = actor
	return e, nil
}

// MarkEntryPosted records the first successful public emission of id.
func (s *Store) MarkEntryPosted(ctx context.Context, id string) error {
	now := s.now()
	q := fmt.Sprintf("UPDATE memory_entries SET posted_at = %s WHERE id = %s AND posted_at IS NULL",
		s.db.Placeholder(1), s.db.Placeholder(2))
	_, err := s.db.ExecContext(ctx, q, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("memory: mark posted: %w", err)
	}
	return nil
}

// Filter parameterizes Snapshot reads.
type Filter struct {
	Categories []Category
	Trusts     []Trust
	Sources    []envelope.Scope
	Limit      int
	ChatID     string
}

// Snapshot reads entries matching filter, ordered createdAt DESC. When
// scope is ScopePublic, sources is forced to [public] regardless of what
// the filter requests — this is the memory-store-layer defensive guard
// kept deliberately alongside the RPC-layer guard (spec.md §9 open
// question: "keep both guards").
func (s *Store) Snapshot(ctx context.Context, scope envelope.Scope, filter Filter) ([]Entry, error) {
	if scope == envelope.ScopePublic {
		filter.Sources = []envelope.Scope{envelope.ScopePublic}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	where := "1=1"
	var args []any
	argN := 1
	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		placeholders := ""
		for i, v := range vals {
			if i > 0 {
				placeholders += ","
			}
			placeholders += s.db.Placeholder(argN)
			argN++
			args = append(args, v)
		}
		where += fmt.Sprintf(" AND %s IN (%s)", col, placeholders)
	}

	if len(filter.Categories) > 0 {
		vals := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			vals[i] = string(c)
		}
		addIn("category", vals)
	}
	if len(filter.Trusts) > 0 {
		vals := make([]string, len(filter.Trusts))
		for i, t := range filter.Trusts {
			vals[i] = string(t)
		}
		addIn("trust", vals)
	}
	if len(filter.Sources) > 0 {
		vals := make([]string, len(filter.Sources))
		for i, src := range filter.Sources {
			vals[i] = string(src)
		}
		addIn("source", vals)
	}
	if filter.ChatID != "" {
		where += fmt.Sprintf(" AND chat_id = %s", s.db.Placeholder(argN))
		args = append(args, filter.ChatID)
		argN++
	}

	q := fmt.Sprintf("SELECT id, category, content, source, trust, created_at, promoted_at, promoted_by, posted_at, chat_id FROM memory_entries WHERE %s ORDER BY created_at DESC LIMIT %s",
		where, s.db.Placeholder(argN))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: snapshot query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdAtMs int64
	var promotedAtMs, postedAtMs *int64
	var promotedBy, chatID *string
	var source, trust, category string

	if err := row.Scan(&e.ID, &category, &e.Content, &source, &trust, &createdAtMs, &promotedAtMs, &promotedBy, &postedAtMs, &chatID); err != nil {
		return Entry{}, fmt.Errorf("memory: scan entry: %w", err)
	}
	e.Category = Category(category)
	e.Source = envelope.Scope(source)
	e.Trust = Trust(trust)
	e.CreatedAt = time.UnixMilli(createdAtMs)
	if promotedAtMs != nil {
		t := time.UnixMilli(*promotedAtMs)
		e.PromotedAt = &t
	}
	if postedAtMs != nil {
		t := time.UnixMilli(*postedAtMs)
		e.PostedAt = &t
	}
	if promotedBy != nil {
		e.PromotedBy = *promotedBy
	}
	if chatID != nil {
		e.ChatID = *chatID
	}
	return e, nil
}

func (s *Store) insert(ctx context.Context, e Entry) error {
	q := fmt.Sprintf(`INSERT INTO memory_entries (id, category, content, source, trust, created_at, chat_id)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3),
		s.db.Placeholder(4), s.db.Placeholder(5), s.db.Placeholder(6), s.db.Placeholder(7))
	var chatID any
	if e.ChatID != "" {
		chatID = e.ChatID
	}
	_, err := s.db.ExecContext(ctx, q, e.ID, string(e.Category), e.Content, string(e.Source), string(e.Trust), e.CreatedAt.UnixMilli(), chatID)
	if err != nil {
		return fmt.Errorf("memory: insert: %w", err)
	}
	return nil
}

func (s *Store) getByID(ctx context.Context, id string) (Entry, error) {
	q := fmt.Sprintf("SELECT id, category, content, source, trust, created_at, promoted_at, promoted_by, posted_at, chat_id FROM memory_entries WHERE id = %s", s.db.Placeholder(1))
	row := s.db.QueryRowContext(ctx, q, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	return e, nil
}
