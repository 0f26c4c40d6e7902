package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market metadata lookups keyed by slug.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, slug string) (Market, error)
	Invalidate(ctx context.Context, slug string) error
}

// SnapshotCache holds the latest MarketState per slug with a TTL.
type SnapshotCache interface {
	SetState(ctx context.Context, state MarketState, ttl time.Duration) error
	GetState(ctx context.Context, slug string) (MarketState, error)
	Invalidate(ctx context.Context, slug string) error
}

// SignalBus provides pub/sub fan-out of serialized snapshots.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MarketChannel is the bus channel carrying snapshots for one market.
func MarketChannel(slug string) string { return "market:" + slug }

// RateQuota is the outcome of one rate-limited request.
type RateQuota struct {
	Allowed   bool
	Remaining int
	// ResetIn is how long until the oldest counted request leaves the window.
	ResetIn time.Duration
}

// RateLimiter counts requests per key in a sliding window.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (RateQuota, error)
}
