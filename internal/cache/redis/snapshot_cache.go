package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each market's latest vAMM
// read is a hash at state:{slug}; ledger integers are stored as decimal
// strings and the fetch time as Unix nanoseconds.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by c.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func stateKey(slug string) string { return "state:" + slug }

// SetState writes state and sets its TTL in one transaction.
func (sc *SnapshotCache) SetState(ctx context.Context, state domain.MarketState, ttl time.Duration) error {
	key := stateKey(state.Slug)
	pipe := sc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeState(state))
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set state %s: %w", state.Slug, err)
	}
	return nil
}

// GetState returns the cached snapshot, or domain.ErrNotFound on a miss.
func (sc *SnapshotCache) GetState(ctx context.Context, slug string) (domain.MarketState, error) {
	vals, err := sc.rdb.HGetAll(ctx, stateKey(slug)).Result()
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("redis: get state %s: %w", slug, err)
	}
	if len(vals) == 0 {
		return domain.MarketState{}, domain.ErrNotFound
	}
	state, err := decodeState(slug, vals)
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("redis: decode state %s: %w", slug, err)
	}
	return state, nil
}

// Invalidate drops the cached snapshot for slug.
func (sc *SnapshotCache) Invalidate(ctx context.Context, slug string) error {
	if err := sc.rdb.Del(ctx, stateKey(slug)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate state %s: %w", slug, err)
	}
	return nil
}

func encodeState(s domain.MarketState) map[string]any {
	fields := map[string]any{
		"block": strconv.FormatUint(s.Block, 10),
	}
	if !s.FetchedAt.IsZero() {
		fields["ts"] = strconv.FormatInt(s.FetchedAt.UnixNano(), 10)
	}
	for name, v := range map[string]*big.Int{
		"mark":     s.MarkPrice,
		"base":     s.BaseReserve,
		"quote":    s.QuoteReserve,
		"long_oi":  s.LongOI,
		"short_oi": s.ShortOI,
	} {
		if v != nil {
			fields[name] = v.String()
		}
	}
	return fields
}

func decodeState(slug string, vals map[string]string) (domain.MarketState, error) {
	s := domain.MarketState{Slug: slug}
	targets := map[string]**big.Int{
		"mark":     &s.MarkPrice,
		"base":     &s.BaseReserve,
		"quote":    &s.QuoteReserve,
		"long_oi":  &s.LongOI,
		"short_oi": &s.ShortOI,
	}
	for name, dst := range targets {
		raw, ok := vals[name]
		if !ok {
			continue
		}
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return domain.MarketState{}, fmt.Errorf("field %s: invalid integer %q", name, raw)
		}
		*dst = v
	}
	if raw, ok := vals["block"]; ok {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return domain.MarketState{}, fmt.Errorf("field block: %w", err)
		}
		s.Block = block
	}
	if raw, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.MarketState{}, fmt.Errorf("field ts: %w", err)
		}
		s.FetchedAt = time.Unix(0, ns).UTC()
	}
	return s, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
