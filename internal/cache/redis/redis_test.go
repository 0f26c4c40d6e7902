package redis

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
)

func TestStateEncodingRoundTrip(t *testing.T) {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	in := domain.MarketState{
		Slug:         "aapl",
		MarkPrice:    new(big.Int).Mul(big.NewInt(190), wad),
		BaseReserve:  new(big.Int).Mul(big.NewInt(1000), wad),
		QuoteReserve: new(big.Int).Mul(big.NewInt(190000), wad),
		LongOI:       big.NewInt(0),
		ShortOI:      new(big.Int).Mul(big.NewInt(12), wad),
		Block:        4242,
		FetchedAt:    time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC),
	}

	fields := encodeState(in)
	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}

	out, err := decodeState("aapl", vals)
	require.NoError(t, err)
	assert.Equal(t, in.Slug, out.Slug)
	assert.Zero(t, in.MarkPrice.Cmp(out.MarkPrice))
	assert.Zero(t, in.BaseReserve.Cmp(out.BaseReserve))
	assert.Zero(t, in.QuoteReserve.Cmp(out.QuoteReserve))
	assert.Zero(t, in.LongOI.Cmp(out.LongOI))
	assert.Zero(t, in.ShortOI.Cmp(out.ShortOI))
	assert.Equal(t, in.Block, out.Block)
	assert.True(t, in.FetchedAt.Equal(out.FetchedAt))
}

func TestDecodeStatePartialAndInvalid(t *testing.T) {
	out, err := decodeState("tsla", map[string]string{"mark": "5"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.MarkPrice.Int64())
	assert.Nil(t, out.BaseReserve)
	assert.True(t, out.FetchedAt.IsZero())

	_, err = decodeState("tsla", map[string]string{"base": "not-a-number"})
	require.Error(t, err)

	_, err = decodeState("tsla", map[string]string{"block": "-1"})
	require.Error(t, err)
}

func TestKeysAndPatterns(t *testing.T) {
	assert.Equal(t, "meta:aapl", marketKey("aapl"))
	assert.Equal(t, "state:aapl", stateKey("aapl"))
	assert.Equal(t, "ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))

	assert.True(t, hasPattern("market:*"))
	assert.False(t, hasPattern(domain.MarketChannel("aapl")))
}

func TestQuotaFrom(t *testing.T) {
	window := 10 * time.Second
	now := time.Date(2026, 3, 1, 0, 0, 10, 0, time.UTC).UnixMicro()
	oldest := now - (4 * time.Second).Microseconds()

	q := quotaFrom(true, 3, oldest, now, 5, window)
	assert.True(t, q.Allowed)
	assert.Equal(t, 2, q.Remaining)
	assert.Equal(t, 6*time.Second, q.ResetIn)

	q = quotaFrom(false, 5, oldest, now, 5, window)
	assert.False(t, q.Allowed)
	assert.Zero(t, q.Remaining)

	q = quotaFrom(false, 7, now-window.Microseconds()-1, now, 5, window)
	assert.Zero(t, q.Remaining, "a lowered limit never goes negative")
	assert.Zero(t, q.ResetIn)
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 8, TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, "synthex", opts.ClientName)
	require.NotNil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "redis://:pw@cache:6380/4", DB: 1, MaxRetries: 5}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 4, opts.DB, "the url wins")
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Nil(t, opts.TLSConfig)

	_, err = ClientConfig{Addr: "http://cache"}.options()
	assert.Error(t, err)
}

func TestDropOldestKeepsNewest(t *testing.T) {
	out := make(chan []byte, 2)
	assert.False(t, dropOldest(out, []byte("1")))
	assert.False(t, dropOldest(out, []byte("2")))
	assert.True(t, dropOldest(out, []byte("3")))

	assert.Equal(t, "2", string(<-out))
	assert.Equal(t, "3", string(<-out))
}
