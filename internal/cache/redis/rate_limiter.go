package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/synthex/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter implements domain.RateLimiter. Each key is a sorted set of
// request timestamps trimmed and counted atomically by a Lua script, so
// every API replica shares the same window.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Take counts one request for key when it fits under limit and reports the
// quota left in the current window.
func (rl *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (domain.RateQuota, error) {
	now := rl.now().UnixMicro()
	res, err := slidingWindow.Run(ctx, rl.rdb, []string{rateLimitKey(key)},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.RateQuota{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.RateQuota{}, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return quotaFrom(res[0] == 1, int(res[1]), res[2], now, limit, window), nil
}

func quotaFrom(taken bool, count int, oldest, now int64, limit int, window time.Duration) domain.RateQuota {
	reset := time.Duration(oldest+window.Microseconds()-now) * time.Microsecond
	return domain.RateQuota{
		Allowed:   taken,
		Remaining: max(limit-count, 0),
		ResetIn:   max(reset, 0),
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
