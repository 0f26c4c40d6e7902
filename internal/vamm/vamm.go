// Package vamm mirrors the venue's constant-product pricing curve so trades
// can be previewed before they are sent. The ledger's own simulate* calls are
// authoritative; results here may differ from them by rounding.
package vamm

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

// divPrecision is the number of fractional digits kept by every division.
const divPrecision = 30

var (
	ErrEmptyPool     = errors.New("vamm: reserves must be positive")
	ErrInvalidAmount = errors.New("vamm: amount must be positive")
	ErrExceedsPool   = errors.New("vamm: amount exceeds available reserve")
)

var hundred = decimal.NewFromInt(100)

// Pool is a (base, quote) reserve pair.
type Pool struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Preview is the simulated outcome of one trade.
type Preview struct {
	Side        domain.Side     `json:"side"`
	Opening     bool            `json:"opening"`
	Notional    decimal.Decimal `json:"notional"`
	Base        decimal.Decimal `json:"base"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Mark        decimal.Decimal `json:"mark"`
	PostMark    decimal.Decimal `json:"post_mark"`
	SlippagePct decimal.Decimal `json:"slippage_pct"` // positive when the fill is worse than mark
}

// NewPool validates reserves.
func NewPool(base, quote decimal.Decimal) (Pool, error) {
	if !base.IsPositive() || !quote.IsPositive() {
		return Pool{}, ErrEmptyPool
	}
	return Pool{Base: base, Quote: quote}, nil
}

// FromState builds a Pool from an 18-decimal ledger snapshot.
func FromState(st domain.MarketState) (Pool, error) {
	return NewPool(units.Wad(st.BaseReserve), units.Wad(st.QuoteReserve))
}

// Mark is quote/base.
func (p Pool) Mark() decimal.Decimal {
	return p.Quote.DivRound(p.Base, divPrecision)
}

// K is the constant product base*quote.
func (p Pool) K() decimal.Decimal {
	return p.Base.Mul(p.Quote)
}

// OpenLong spends notional quote to buy base:
// (Q+N)(B-baseOut) = B*Q, so baseOut = B*N/(Q+N).
func (p Pool) OpenLong(notional decimal.Decimal) (Preview, error) {
	if !notional.IsPositive() {
		return Preview{}, ErrInvalidAmount
	}
	baseOut := p.Base.Mul(notional).DivRound(p.Quote.Add(notional), divPrecision)
	after := Pool{Base: p.Base.Sub(baseOut), Quote: p.Quote.Add(notional)}
	return p.preview(domain.SideLong, true, notional, baseOut, after), nil
}

// OpenShort sells base until notional quote has been raised:
// (Q-N)(B+baseIn) = B*Q, so baseIn = B*N/(Q-N). N must be below Q.
func (p Pool) OpenShort(notional decimal.Decimal) (Preview, error) {
	if !notional.IsPositive() {
		return Preview{}, ErrInvalidAmount
	}
	if notional.GreaterThanOrEqual(p.Quote) {
		return Preview{}, fmt.Errorf("%w: notional %s >= quote reserve %s", ErrExceedsPool, notional, p.Quote)
	}
	baseIn := p.Base.Mul(notional).DivRound(p.Quote.Sub(notional), divPrecision)
	after := Pool{Base: p.Base.Add(baseIn), Quote: p.Quote.Sub(notional)}
	return p.preview(domain.SideShort, true, notional, baseIn, after), nil
}

// CloseLong sells base back: quoteOut = Q*b/(B+b).
func (p Pool) CloseLong(base decimal.Decimal) (Preview, error) {
	if !base.IsPositive() {
		return Preview{}, ErrInvalidAmount
	}
	quoteOut := p.Quote.Mul(base).DivRound(p.Base.Add(base), divPrecision)
	after := Pool{Base: p.Base.Add(base), Quote: p.Quote.Sub(quoteOut)}
	return p.preview(domain.SideLong, false, quoteOut, base, after), nil
}

// CloseShort buys base back: quoteIn = Q*b/(B-b). b must be below B.
func (p Pool) CloseShort(base decimal.Decimal) (Preview, error) {
	if !base.IsPositive() {
		return Preview{}, ErrInvalidAmount
	}
	if base.GreaterThanOrEqual(p.Base) {
		return Preview{}, fmt.Errorf("%w: base %s >= base reserve %s", ErrExceedsPool, base, p.Base)
	}
	quoteIn := p.Quote.Mul(base).DivRound(p.Base.Sub(base), divPrecision)
	after := Pool{Base: p.Base.Sub(base), Quote: p.Quote.Add(quoteIn)}
	return p.preview(domain.SideShort, false, quoteIn, base, after), nil
}

// Open dispatches on side.
func (p Pool) Open(side domain.Side, notional decimal.Decimal) (Preview, error) {
	if side == domain.SideShort {
		return p.OpenShort(notional)
	}
	return p.OpenLong(notional)
}

// Close dispatches on the side of the position being closed.
func (p Pool) Close(side domain.Side, base decimal.Decimal) (Preview, error) {
	if side == domain.SideShort {
		return p.CloseShort(base)
	}
	return p.CloseLong(base)
}

// preview fills in prices. A trade that buys base (long open, short close)
// slips when it pays above mark; one that sells base slips below mark.
func (p Pool) preview(side domain.Side, opening bool, quote, base decimal.Decimal, after Pool) Preview {
	mark := p.Mark()
	avg := quote.DivRound(base, divPrecision)

	buysBase := (side == domain.SideLong) == opening
	var diff decimal.Decimal
	if buysBase {
		diff = avg.Sub(mark)
	} else {
		diff = mark.Sub(avg)
	}

	return Preview{
		Side:        side,
		Opening:     opening,
		Notional:    quote,
		Base:        base,
		AvgPrice:    avg,
		Mark:        mark,
		PostMark:    after.Mark(),
		SlippagePct: diff.DivRound(mark, divPrecision).Mul(hundred),
	}
}

// KDriftBps compares the constant product of two snapshots and returns the
// relative change in basis points. Non-zero drift means liquidity was added
// or removed between them; it is advisory only.
func KDriftBps(before, after domain.MarketState) (decimal.Decimal, error) {
	a, err := FromState(before)
	if err != nil {
		return decimal.Zero, err
	}
	b, err := FromState(after)
	if err != nil {
		return decimal.Zero, err
	}
	return b.K().Sub(a.K()).DivRound(a.K(), divPrecision).Mul(decimal.NewFromInt(10_000)), nil
}
