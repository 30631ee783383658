package ratelimit

import (
	"context"
	"fmt"
)

// CounterSnapshot is one (limiterType, window) row for an actor, surfaced
// to the ops/admin console per SPEC_FULL.md §4.K.
type CounterSnapshot struct {
	LimiterType string `json:"limiterType"`
	WindowStart int64  `json:"windowStart"`
	Points      int64  `json:"points"`
}

// Inspector is implemented by both backends so the admin console's
// rate-limit-inspection endpoint works regardless of RATE_LIMIT_BACKEND.
type Inspector interface {
	Inspect(ctx context.Context, actorID string) ([]CounterSnapshot, error)
}

// Inspect returns the current counters for actorID across every dimension
// keyed directly by that actor (actor and actor-tier rows); it does not
// include global counters, which are not actor-scoped. Read-only, no
// write, unlike Check.
func (l *Limiter) Inspect(ctx context.Context, actorID string) ([]CounterSnapshot, error) {
	q := fmt.Sprintf(
		`SELECT limiter_type, window_start, points FROM rate_limits WHERE key = %s OR key LIKE %s ORDER BY window_start DESC`,
		l.db.Placeholder(1), l.db.Placeholder(2))
	rows, err := l.db.QueryContext(ctx, q, actorID, actorID+":%")
	if err != nil {
		return nil, fmt.Errorf("ratelimit: inspect: %w", err)
	}
	defer rows.Close()

	var out []CounterSnapshot
	for rows.Next() {
		var s CounterSnapshot
		if err := rows.Scan(&s.LimiterType, &s.WindowStart, &s.Points); err != nil {
			return nil, fmt.Errorf("ratelimit: inspect scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
