// Package ratelimit implements the multi-dimensional sliding-window rate
// limiter backed by the persistent store, failing closed on any error per
// spec.md §4.F. Grounded on core/pkg/kernel/limiter.go's EvaluateBackpressure
// for fail-closed polarity (the teacher's own auth/ratelimit.go middleware
// fails open; that polarity is deliberately not carried forward here — see
// DESIGN.md).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/store"
	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

// ErrRateLimited is returned whenever a dimension would be exceeded, or
// when any error occurs while checking — the limiter fails closed. It
// names the offending dimension ("unavailable" when the transaction itself
// failed) and the delay until that dimension's window resets (one second
// after an error).
type ErrRateLimited struct {
	Dimension string
	RetryIn   time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded, retry in %s", e.Dimension, e.RetryIn)
}

// Caps configures the per-minute/per-hour ceilings for each dimension.
type Caps struct {
	GlobalPerMinute   int64
	GlobalPerHour     int64
	ActorPerMinute    int64
	ActorPerHour      int64
	ActorTierPerMin   int64
	ActorTierPerHour  int64
	MultimediaHourly  int64
	MultimediaDaily   int64
}

// DefaultCaps are reasonable ceilings absent deployment-specific tuning.
func DefaultCaps() Caps {
	return Caps{
		GlobalPerMinute:  600,
		GlobalPerHour:    20000,
		ActorPerMinute:   30,
		ActorPerHour:     600,
		ActorTierPerMin:  20,
		ActorTierPerHour: 400,
		MultimediaHourly: 20,
		MultimediaDaily:  100,
	}
}

// Limiter checks and consumes rate-limit budget.
type Limiter struct {
	db   *store.DB
	caps Caps
	now  func() time.Time
}

// New constructs a Limiter over db with the given caps.
func New(db *store.DB, caps Caps) *Limiter {
	return &Limiter{db: db, caps: caps, now: time.Now}
}

type dimension struct {
	limiterType string
	key         string
	window      time.Duration
	cap         int64
}

func windowStart(now time.Time, window time.Duration) int64 {
	ms := now.UnixMilli()
	w := window.Milliseconds()
	return (ms / w) * w
}

// Check enforces the global/actor/actor-tier dimensions for one request.
// It fails closed: any DB error is treated as limit-exceeded.
func (l *Limiter) Check(ctx context.Context, actorID string, tier tiers.Tier) error {
	now := l.now()
	dims := []dimension{
		{"global", "global", time.Minute, l.caps.GlobalPerMinute},
		{"global", "global", time.Hour, l.caps.GlobalPerHour},
		{"actor", actorID, time.Minute, l.caps.ActorPerMinute},
		{"actor", actorID, time.Hour, l.caps.ActorPerHour},
		{"actor-tier", actorID + ":" + string(tier), time.Minute, l.caps.ActorTierPerMin},
		{"actor-tier", actorID + ":" + string(tier), time.Hour, l.caps.ActorTierPerHour},
	}
	return l.checkAndConsume(ctx, now, dims)
}

// CheckMultimedia enforces the secondary feature-keyed multimedia limiter.
func (l *Limiter) CheckMultimedia(ctx context.Context, feature, actorID string) error {
	now := l.now()
	key := feature + ":" + actorID
	dims := []dimension{
		{"multimedia:hourly", key, time.Hour, l.caps.MultimediaHourly},
		{"multimedia:daily", key, 24 * time.Hour, l.caps.MultimediaDaily},
	}
	return l.checkAndConsume(ctx, now, dims)
}

// checkAndConsume reads all dimensions first inside a single transaction,
// verifies none would exceed its cap after +1, then atomically increments
// all counters. On Postgres the read locks each existing row with SELECT
// ... FOR UPDATE, so a second concurrent transaction touching the same
// window blocks until the first commits and then re-reads the committed
// points — without that lock, Postgres's default READ COMMITTED isolation
// lets two transactions both read a stale points value and both pass the
// cap check. SQLite doesn't need it: the Go driver serializes writers and
// WAL-mode readers already see a consistent snapshot.
func (l *Limiter) checkAndConsume(ctx context.Context, now time.Time, dims []dimension) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &ErrRateLimited{Dimension: "unavailable", RetryIn: time.Second}
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	for _, d := range dims {
		ws := windowStart(now, d.window)
		var points int64
		q := fmt.Sprintf("SELECT points FROM rate_limits WHERE limiter_type = %s AND key = %s AND window_start = %s",
			l.db.Placeholder(1), l.db.Placeholder(2), l.db.Placeholder(3))
		if l.db.Backend == "postgres" {
			q += " FOR UPDATE"
		}
		row := tx.QueryRowContext(ctx, q, d.limiterType, d.key, ws)
		if scanErr := row.Scan(&points); scanErr != nil {
			points = 0 // no row yet for this window
		}
		if points+1 > d.cap {
			retryIn := d.window - now.Sub(time.UnixMilli(ws))
			return &ErrRateLimited{Dimension: d.limiterType, RetryIn: retryIn}
		}
	}

	for _, d := range dims {
		ws := windowStart(now, d.window)
		var upsert string
		if l.db.Backend == "postgres" {
			upsert = fmt.Sprintf(`INSERT INTO rate_limits (limiter_type, key, window_start, points)
				VALUES (%s, %s, %s, 1)
				ON CONFLICT (limiter_type, key, window_start) DO UPDATE SET points = rate_limits.points + 1`,
				l.db.Placeholder(1), l.db.Placeholder(2), l.db.Placeholder(3))
		} else {
			upsert = `INSERT INTO rate_limits (limiter_type, key, window_start, points)
				VALUES (?, ?, ?, 1)
				ON CONFLICT (limiter_type, key, window_start) DO UPDATE SET points = points + 1`
		}
		if _, err := tx.ExecContext(ctx, upsert, d.limiterType, d.key, ws); err != nil {
			return &ErrRateLimited{Dimension: d.limiterType, RetryIn: time.Second}
		}
	}

	if err := tx.Commit(); err != nil {
		return &ErrRateLimited{Dimension: "unavailable", RetryIn: time.Second}
	}
	return nil
}
