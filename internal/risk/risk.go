// Package risk derives leverage, liquidation price, distance to liquidation
// and unrealized PnL for positions. All arithmetic is exact decimal so bucket
// boundaries resolve the same way every time.
package risk

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

const divPrecision = 30

var (
	ErrInvalidLeverage = errors.New("risk: leverage must be positive")
	ErrInvalidPrice    = errors.New("risk: price must be positive")
)

var hundred = decimal.NewFromInt(100)

// Bucket classifies how close a position is to liquidation.
type Bucket string

const (
	BucketLow    Bucket = "low"
	BucketMedium Bucket = "medium"
	BucketHigh   Bucket = "high"
)

// Thresholds are policy constants in percent: distance below High is high
// risk, below Medium is medium risk.
type Thresholds struct {
	High   decimal.Decimal
	Medium decimal.Decimal
}

// DefaultThresholds returns 5% / 15%.
func DefaultThresholds() Thresholds {
	return Thresholds{High: decimal.NewFromInt(5), Medium: decimal.NewFromInt(15)}
}

// Assessment is the full risk picture of one position at one mark price.
type Assessment struct {
	Leverage         decimal.Decimal `json:"leverage"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	DistancePct      decimal.Decimal `json:"distance_pct"`
	Bucket           Bucket          `json:"bucket"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	PnLPct           decimal.Decimal `json:"pnl_pct"`
	Mark             decimal.Decimal `json:"mark"`
}

// Calculator applies a set of thresholds.
type Calculator struct {
	th Thresholds
}

// NewCalculator creates a Calculator. Zero thresholds fall back to defaults.
func NewCalculator(th Thresholds) *Calculator {
	def := DefaultThresholds()
	if th.High.IsZero() {
		th.High = def.High
	}
	if th.Medium.IsZero() {
		th.Medium = def.Medium
	}
	return &Calculator{th: th}
}

// LiquidationPrice is entry*(1-1/leverage) for longs and entry*(1+1/leverage)
// for shorts. Accrued funding is ignored; the ledger's own liquidation check
// is authoritative.
func LiquidationPrice(side domain.Side, entry, leverage decimal.Decimal) (decimal.Decimal, error) {
	if !leverage.IsPositive() {
		return decimal.Zero, ErrInvalidLeverage
	}
	if !entry.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	step := decimal.NewFromInt(1).DivRound(leverage, divPrecision)
	if side == domain.SideShort {
		return entry.Mul(decimal.NewFromInt(1).Add(step)), nil
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(step)), nil
}

// DistanceToLiquidation is the percentage the mark must move against the
// position to reach liq, relative to liq. Negative means the mark is already
// beyond it. A long at 1x has a zero liquidation price and reports 100.
func DistanceToLiquidation(side domain.Side, mark, liq decimal.Decimal) decimal.Decimal {
	if !liq.IsPositive() {
		return hundred
	}
	var gap decimal.Decimal
	if side == domain.SideShort {
		gap = liq.Sub(mark)
	} else {
		gap = mark.Sub(liq)
	}
	return gap.DivRound(liq, divPrecision).Mul(hundred)
}

// UnrealizedPnL is sign(side)*(mark-entry)*baseSize*leverage.
func UnrealizedPnL(side domain.Side, entry, mark, baseSize, leverage decimal.Decimal) decimal.Decimal {
	pnl := mark.Sub(entry).Mul(baseSize).Mul(leverage)
	if side == domain.SideShort {
		return pnl.Neg()
	}
	return pnl
}

// PnLPercent is pnl/(entry*baseSize)*100, or zero for an empty position.
func PnLPercent(pnl, entry, baseSize decimal.Decimal) decimal.Decimal {
	basis := entry.Mul(baseSize)
	if basis.IsZero() {
		return decimal.Zero
	}
	return pnl.DivRound(basis, divPrecision).Mul(hundred)
}

// Classify maps a distance to a bucket.
func (c *Calculator) Classify(distancePct decimal.Decimal) Bucket {
	switch {
	case distancePct.LessThan(c.th.High):
		return BucketHigh
	case distancePct.LessThan(c.th.Medium):
		return BucketMedium
	default:
		return BucketLow
	}
}

// Assess evaluates pos at mark (18 decimals).
func (c *Calculator) Assess(pos domain.Position, mark *big.Int) (Assessment, error) {
	lev := pos.Leverage()
	entry := units.Wad(pos.EntryPrice)
	m := units.Wad(mark)
	return c.assess(pos.Side, entry, m, units.Wad(pos.BaseSize), lev)
}

// AssessValues evaluates a hypothetical position given in plain decimals.
func (c *Calculator) AssessValues(side domain.Side, entry, mark, baseSize, leverage decimal.Decimal) (Assessment, error) {
	return c.assess(side, entry, mark, baseSize, leverage)
}

func (c *Calculator) assess(side domain.Side, entry, mark, baseSize, lev decimal.Decimal) (Assessment, error) {
	liq, err := LiquidationPrice(side, entry, lev)
	if err != nil {
		return Assessment{}, err
	}
	dist := DistanceToLiquidation(side, mark, liq)
	pnl := UnrealizedPnL(side, entry, mark, baseSize, lev)
	return Assessment{
		Leverage:         lev,
		LiquidationPrice: liq,
		DistancePct:      dist,
		Bucket:           c.Classify(dist),
		UnrealizedPnL:    pnl,
		PnLPct:           PnLPercent(pnl, entry, baseSize),
		Mark:             mark,
	}, nil
}
