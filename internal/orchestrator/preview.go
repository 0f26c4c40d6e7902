package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
	"github.com/alanyoungcy/synthex/internal/risk"
	"github.com/alanyoungcy/synthex/internal/units"
	"github.com/alanyoungcy/synthex/internal/vamm"
)

// Preview is an advisory simulation of a trade. Local is the client-side
// curve; Ledger is the venue's own simulate* answer and is nil when that call
// failed. Neither is binding.
type Preview struct {
	Market       string           `json:"market"`
	Local        vamm.Preview     `json:"local"`
	Ledger       *domain.Quote    `json:"ledger,omitempty"`
	Risk         *risk.Assessment `json:"risk,omitempty"`
	EstimatedPnL *decimal.Decimal `json:"estimated_pnl,omitempty"`
	// KDriftBps compares the cached snapshot's constant product with the
	// fresh read; non-zero means liquidity moved since the last poll.
	KDriftBps *decimal.Decimal `json:"k_drift_bps,omitempty"`
	Block     uint64           `json:"block"`
}

// PreviewOpen simulates opening side with amount collateral at leverage.
func (o *Orchestrator) PreviewOpen(ctx context.Context, slug string, side domain.Side, amount *big.Int, leverage int64) (Preview, error) {
	if te := o.validateIntent(slug, domain.TradeIntent{Side: side, Amount: amount, Leverage: leverage}); te != nil {
		return Preview{}, te
	}
	market, state, drift, err := o.freshState(ctx, slug)
	if err != nil {
		return Preview{}, err
	}
	pool, err := vamm.FromState(state)
	if err != nil {
		return Preview{}, domain.NewTradeError(domain.KindUnavailable, domain.CodeNetwork, err.Error())
	}

	lev := decimal.NewFromInt(leverage)
	notional := units.Collateral(amount).Mul(lev)
	local, err := pool.Open(side, notional)
	if err != nil {
		return Preview{}, domain.Preflight(domain.CodeInvalidAmount, err.Error())
	}

	out := Preview{Market: slug, Local: local, KDriftBps: drift, Block: state.Block}
	notionalWad := units.FromDecimal(notional, units.WadDecimals)
	var q domain.Quote
	if side == domain.SideShort {
		q, err = o.reader.SimulateOpenShort(ctx, market.Contracts.VAMM, notionalWad)
	} else {
		q, err = o.reader.SimulateOpenLong(ctx, market.Contracts.VAMM, notionalWad)
	}
	out.Ledger = o.ledgerQuote(slug, "open", q, err)

	if a, err := o.risk.AssessValues(side, local.AvgPrice, local.PostMark, local.Base, lev); err == nil {
		out.Risk = &a
	}
	return out, nil
}

// PreviewClose simulates closing position id in slug at the current curve.
func (o *Orchestrator) PreviewClose(ctx context.Context, slug string, id *big.Int) (Preview, error) {
	if slug == "" {
		return Preview{}, domain.Preflight(domain.CodeUnsupported, "closing a position requires its market")
	}
	if id == nil || id.Sign() <= 0 {
		return Preview{}, domain.Preflight(domain.CodeInvalidAmount, "position id must be positive")
	}
	market, state, drift, err := o.freshState(ctx, slug)
	if err != nil {
		return Preview{}, err
	}
	pos, err := o.reader.GetPosition(ctx, market.Contracts.PositionRegistry, id)
	if err != nil {
		return Preview{}, decodeError(err)
	}
	if !pos.IsOpen() {
		return Preview{}, domain.Preflight(domain.CodePositionNotOpen, fmt.Sprintf("position %s is %s", id, pos.Status))
	}

	pool, err := vamm.FromState(state)
	if err != nil {
		return Preview{}, domain.NewTradeError(domain.KindUnavailable, domain.CodeNetwork, err.Error())
	}
	base := units.Wad(pos.BaseSize)
	local, err := pool.Close(pos.Side, base)
	if err != nil {
		return Preview{}, domain.Preflight(domain.CodeInvalidAmount, err.Error())
	}

	out := Preview{Market: slug, Local: local, KDriftBps: drift, Block: state.Block}
	var q domain.Quote
	if pos.Side == domain.SideShort {
		q, err = o.reader.SimulateCloseShort(ctx, market.Contracts.VAMM, pos.BaseSize)
	} else {
		q, err = o.reader.SimulateCloseLong(ctx, market.Contracts.VAMM, pos.BaseSize)
	}
	out.Ledger = o.ledgerQuote(slug, "close", q, err)

	pnl := risk.UnrealizedPnL(pos.Side, units.Wad(pos.EntryPrice), local.AvgPrice, base, pos.Leverage())
	out.EstimatedPnL = &pnl
	return out, nil
}

// freshState resolves slug and reads the vAMM directly, comparing against the
// cached snapshot when there is one.
func (o *Orchestrator) freshState(ctx context.Context, slug string) (domain.Market, domain.MarketState, *decimal.Decimal, error) {
	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		return domain.Market{}, domain.MarketState{}, nil, decodeError(err)
	}
	state, err := o.reader.ReadMarketState(ctx, ledger.MarketRef{Slug: slug, Contracts: market.Contracts})
	if err != nil {
		return domain.Market{}, domain.MarketState{}, nil, decodeError(err)
	}

	var drift *decimal.Decimal
	if o.snapshots != nil {
		if cached, err := o.snapshots.GetState(ctx, slug); err == nil {
			if d, err := vamm.KDriftBps(cached, state); err == nil {
				drift = &d
				if !d.IsZero() {
					o.logger.Info("orchestrator: constant product moved since last snapshot",
						slog.String("market", slug),
						slog.String("drift_bps", d.StringFixed(2)),
					)
				}
			}
		}
	}
	return market, state, drift, nil
}

func (o *Orchestrator) ledgerQuote(slug, op string, q domain.Quote, err error) *domain.Quote {
	if err != nil {
		o.degraded("ledger "+op+" simulation", slug, err)
		return nil
	}
	return &q
}
