package ratelimit

import (
	"context"

	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

// Store is the common contract both backends (embedded SQL and Redis)
// satisfy, so callers (pkg/capability) don't need to know which is
// configured.
type Store interface {
	Check(ctx context.Context, actorID string, tier tiers.Tier) error
	CheckMultimedia(ctx context.Context, feature, actorID string) error
}

var (
	_ Store = (*Limiter)(nil)
	_ Store = (*RedisLimiter)(nil)
)
