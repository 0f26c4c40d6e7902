package history

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// Querier is the subgraph surface Index depends on. *Client satisfies it.
type Querier interface {
	Meta(ctx context.Context) (domain.IndexMeta, error)
	Trades(ctx context.Context, market string, since time.Time, first int) ([]domain.TradeRecord, error)
	PositionHistory(ctx context.Context, user, market string, first int) ([]domain.TradeRecord, error)
	Candles(ctx context.Context, market, interval string, since time.Time) ([]domain.Candle, error)
	Volume24h(ctx context.Context, market string, now time.Time) (*big.Int, error)
}

// Index is the best-effort facade over the history indexer. Nothing it
// returns is ever an error: failures produce empty results and flip Ready.
type Index struct {
	q      Querier
	logger *slog.Logger
	ready  atomic.Bool
	now    func() time.Time
}

// NewIndex wraps q. A nil q yields an Index that is never ready.
func NewIndex(q Querier, logger *slog.Logger) *Index {
	return &Index{
		q:      q,
		logger: logger.With(slog.String("component", "history_index")),
		now:    time.Now,
	}
}

// Ready reports whether the last query succeeded.
func (ix *Index) Ready() bool { return ix.ready.Load() }

// Probe refreshes the readiness flag from the indexer's metadata.
func (ix *Index) Probe(ctx context.Context) bool {
	if ix.q == nil {
		return false
	}
	meta, err := ix.q.Meta(ctx)
	if err != nil {
		ix.degrade("meta", err)
		return false
	}
	ix.logger.Debug("history: indexer reachable", slog.Uint64("block", meta.Block))
	ix.ready.Store(true)
	return true
}

// MarketHistory returns recent trades, candles and 24h volume for market.
func (ix *Index) MarketHistory(ctx context.Context, market, interval string, since time.Time) domain.MarketHistory {
	out := domain.MarketHistory{
		Trades:    []domain.TradeRecord{},
		Candles:   []domain.Candle{},
		Volume24h: new(big.Int),
	}
	if ix.q == nil {
		return out
	}

	trades, err := ix.q.Trades(ctx, market, since, 500)
	if err != nil {
		ix.degrade("trades", err)
		return out
	}
	candles, err := ix.q.Candles(ctx, market, interval, since)
	if err != nil {
		ix.degrade("candles", err)
		return out
	}
	vol, err := ix.q.Volume24h(ctx, market, ix.now())
	if err != nil {
		ix.degrade("volume", err)
		return out
	}

	ix.ready.Store(true)
	out.Ready = true
	out.Trades = trades
	out.Candles = candles
	out.Volume24h = vol
	return out
}

// UserHistory returns user's indexed trades, empty when unavailable.
func (ix *Index) UserHistory(ctx context.Context, user, market string) []domain.TradeRecord {
	if ix.q == nil {
		return []domain.TradeRecord{}
	}
	trades, err := ix.q.PositionHistory(ctx, user, market, 200)
	if err != nil {
		ix.degrade("position history", err)
		return []domain.TradeRecord{}
	}
	ix.ready.Store(true)
	return trades
}

func (ix *Index) degrade(op string, err error) {
	ix.ready.Store(false)
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrIndexNotReady) {
		level = slog.LevelInfo
	}
	ix.logger.Log(context.Background(), level, "history: index unavailable, returning empty result",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
