package orchestrator

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/risk"
)

// MarketView is the unified picture of one market. Components that could not
// be read are named in Unavailable; the view itself never fails for them.
type MarketView struct {
	Market           domain.Market        `json:"market"`
	State            *domain.MarketState  `json:"state,omitempty"`
	MarkDeviationBps int64                `json:"mark_deviation_bps"`
	Funds            *domain.FundBalances `json:"funds,omitempty"`
	History          domain.MarketHistory `json:"history"`
	Unavailable      []string             `json:"unavailable,omitempty"`
}

// PositionView is one open position with its risk at the current mark.
type PositionView struct {
	Position domain.Position  `json:"position"`
	Risk     *risk.Assessment `json:"risk,omitempty"`
}

// AccountView is a user's positions, balances and indexed history in one
// market.
type AccountView struct {
	Market      string               `json:"market"`
	User        common.Address       `json:"user"`
	Positions   []PositionView       `json:"positions"`
	ScannedTo   uint64               `json:"scanned_to"`
	Internal    *big.Int             `json:"internal_balance,omitempty"`
	Wallet      *big.Int             `json:"wallet_balance,omitempty"`
	History     []domain.TradeRecord `json:"history"`
	HistoryLive bool                 `json:"history_ready"`
	Unavailable []string             `json:"unavailable,omitempty"`
}

// MarketView resolves slug and joins ledger state, fund balances and indexed
// history. Only an unknown market is an error. When the metadata store is
// down the view carries default metadata and the slug-keyed history, with
// metadata, state and funds marked unavailable.
func (o *Orchestrator) MarketView(ctx context.Context, slug string) (MarketView, error) {
	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		te := decodeError(err)
		if te.Code == domain.CodeMarketNotFound || te.Code == domain.CodeUnsupported {
			return MarketView{}, te
		}
		o.degraded("market metadata", slug, err)
		return o.metadataOnlyView(ctx, slug), nil
	}
	view := MarketView{Market: market}

	var (
		state    domain.MarketState
		funds    domain.FundBalances
		stateErr error
		fundsErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		state, stateErr = o.marketState(ctx, market)
		return nil
	})
	g.Go(func() error {
		funds, fundsErr = o.reader.FundBalances(ctx, market.Contracts.Engine)
		return nil
	})
	g.Go(func() error {
		view.History = o.history.MarketHistory(ctx, slug, o.cfg.HistoryInterval, o.now().Add(-o.cfg.HistoryWindow))
		return nil
	})
	_ = g.Wait()

	if stateErr != nil {
		o.degraded("market state", slug, stateErr)
		view.Unavailable = append(view.Unavailable, "state")
	} else {
		view.State = &state
		view.MarkDeviationBps = state.MarkDeviationBps()
	}
	if fundsErr != nil {
		o.degraded("fund balances", slug, fundsErr)
		view.Unavailable = append(view.Unavailable, "funds")
	} else {
		view.Funds = &funds
	}
	if !view.History.Ready {
		view.Unavailable = append(view.Unavailable, "history")
	}
	return view, nil
}

func (o *Orchestrator) metadataOnlyView(ctx context.Context, slug string) MarketView {
	view := MarketView{
		Market:      domain.Market{MarketMetadata: o.markets.GetMarketMetadata(ctx, slug)},
		History:     o.history.MarketHistory(ctx, slug, o.cfg.HistoryInterval, o.now().Add(-o.cfg.HistoryWindow)),
		Unavailable: []string{"metadata", "state", "funds"},
	}
	if !view.History.Ready {
		view.Unavailable = append(view.Unavailable, "history")
	}
	return view
}

// AccountView derives user's open positions in slug and assesses each at the
// current mark. Positions are authoritative, so a failed reconcile is an
// error; balances, marks and history degrade.
func (o *Orchestrator) AccountView(ctx context.Context, slug string, user common.Address) (AccountView, error) {
	if slug == "" {
		return AccountView{}, domain.Preflight(domain.CodeUnsupported, "a market is required")
	}
	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		return AccountView{}, decodeError(err)
	}
	view := AccountView{Market: slug, User: user}

	var (
		state    domain.MarketState
		stateErr error
		balErr   error
		history  []domain.TradeRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := o.openPositions(gctx, market, &user)
		if err != nil {
			return err
		}
		view.ScannedTo = snap.ScannedTo
		view.Positions = make([]PositionView, 0, len(snap.Positions))
		for _, p := range snap.Positions {
			view.Positions = append(view.Positions, PositionView{Position: p})
		}
		return nil
	})
	g.Go(func() error {
		state, stateErr = o.marketState(gctx, market)
		return nil
	})
	g.Go(func() error {
		view.Internal, view.Wallet, balErr = o.balances(gctx, market.Contracts.Engine, user)
		return nil
	})
	g.Go(func() error {
		history = o.history.UserHistory(gctx, strings.ToLower(user.Hex()), slug)
		return nil
	})
	if err := g.Wait(); err != nil {
		return AccountView{}, decodeError(err)
	}

	view.History = history
	view.HistoryLive = o.history.Ready()
	if !view.HistoryLive {
		view.Unavailable = append(view.Unavailable, "history")
	}
	if balErr != nil {
		o.degraded("balances", slug, balErr)
		view.Unavailable = append(view.Unavailable, "balances")
	}
	if stateErr != nil {
		o.degraded("market state", slug, stateErr)
		view.Unavailable = append(view.Unavailable, "risk")
		return view, nil
	}

	for i := range view.Positions {
		a, err := o.risk.Assess(view.Positions[i].Position, state.MarkPrice)
		if err != nil {
			o.logger.Debug("orchestrator: risk not assessable",
				slog.String("market", slug),
				slog.String("position_id", view.Positions[i].Position.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		view.Positions[i].Risk = &a
		o.checkAlert(ctx, slug, view.Positions[i].Position, a)
	}
	return view, nil
}

// MarketPositions returns every open position in slug, for operators.
func (o *Orchestrator) MarketPositions(ctx context.Context, slug string) ([]domain.Position, error) {
	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		return nil, decodeError(err)
	}
	snap, err := o.openPositions(ctx, market, nil)
	if err != nil {
		return nil, decodeError(err)
	}
	return snap.Positions, nil
}

func (o *Orchestrator) balances(ctx context.Context, engine, user common.Address) (*big.Int, *big.Int, error) {
	internal, err := o.reader.InternalBalance(ctx, engine, user)
	if err != nil {
		return nil, nil, err
	}
	token, err := o.reader.CollateralToken(ctx, engine)
	if err != nil {
		return internal, nil, err
	}
	wallet, err := o.reader.TokenBalance(ctx, token, user)
	if err != nil {
		return internal, nil, err
	}
	return internal, wallet, nil
}

// checkAlert raises a RiskAlert the first time a position is seen in the high
// bucket and re-arms once it leaves it.
func (o *Orchestrator) checkAlert(ctx context.Context, slug string, pos domain.Position, a risk.Assessment) {
	key := slug + "|" + pos.ID.String()
	o.mu.Lock()
	already := o.alerted[key]
	if a.Bucket == risk.BucketHigh {
		o.alerted[key] = true
	} else {
		delete(o.alerted, key)
	}
	o.mu.Unlock()

	if a.Bucket == risk.BucketHigh && !already {
		o.logger.Warn("orchestrator: position near liquidation",
			slog.String("market", slug),
			slog.String("position_id", pos.ID.String()),
			slog.String("distance_pct", a.DistancePct.StringFixed(2)),
		)
		o.emitRisk(ctx, RiskAlert{Market: slug, Position: pos, Assessment: a})
	}
}

func (o *Orchestrator) clearAlert(slug string, id *big.Int) {
	o.mu.Lock()
	delete(o.alerted, slug+"|"+id.String())
	o.mu.Unlock()
}

func (o *Orchestrator) degraded(what, slug string, err error) {
	o.logger.Warn("orchestrator: view component unavailable",
		slog.String("component_name", what),
		slog.String("market", slug),
		slog.String("error", err.Error()),
	)
}
