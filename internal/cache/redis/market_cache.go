package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// DefaultMarketTTL applies when NewMarketCache is given a non-positive TTL.
const DefaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache. Each market is a hash at
// meta:{slug} with its JSON under the "data" field.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by c.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(slug string) string { return "meta:" + slug }

// Set stores market under its slug with the cache TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Slug, err)
	}

	key := marketKey(market.Slug)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Slug, err)
	}
	return nil
}

// Get returns the cached market, or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, slug string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(slug), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", slug, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", slug, err)
	}
	return market, nil
}

// Invalidate drops the cached entry for slug.
func (mc *MarketCache) Invalidate(ctx context.Context, slug string) error {
	if err := mc.rdb.Del(ctx, marketKey(slug)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", slug, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
