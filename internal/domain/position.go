package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Wad is the 18-decimal fixed-point unit used by the vAMM and the position
// registry.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() int {
	if s == SideShort {
		return -1
	}
	return 1
}

// IsLong is the ledger's boolean encoding of the side.
func (s Side) IsLong() bool { return s != SideShort }

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// SideFromLong maps the ledger's isLong flag back to a Side.
func SideFromLong(isLong bool) Side {
	if isLong {
		return SideLong
	}
	return SideShort
}

// PositionStatus mirrors the registry's status enum.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// PositionStatusFromCode maps the registry's uint8 status.
func PositionStatusFromCode(code uint8) PositionStatus {
	switch code {
	case 0:
		return PositionStatusOpen
	case 1:
		return PositionStatusClosed
	default:
		return PositionStatusLiquidated
	}
}

// Position is a registry record. Prices and sizes carry 18 decimals, margin
// carries the collateral's 6 decimals as stored by the engine.
type Position struct {
	ID            *big.Int       `json:"id"`
	Market        string         `json:"market"`
	Owner         common.Address `json:"owner"`
	Side          Side           `json:"side"`
	EntryPrice    *big.Int       `json:"entry_price"`
	BaseSize      *big.Int       `json:"base_size"`
	Margin        *big.Int       `json:"margin"`
	EntryNotional *big.Int       `json:"entry_notional"`
	CarrySnapshot *big.Int       `json:"carry_snapshot"`
	OpenBlock     uint64         `json:"open_block"`
	Status        PositionStatus `json:"status"`
	RealizedPnL   *big.Int       `json:"realized_pnl"`
}

// IsOpen reports whether the registry still considers the position open.
func (p Position) IsOpen() bool { return p.Status == PositionStatusOpen }

// ExpectedNotional returns entryPrice*baseSize in 18 decimals, the value the
// registry records as entryNotional at creation.
func (p Position) ExpectedNotional() *big.Int {
	if p.EntryPrice == nil || p.BaseSize == nil {
		return nil
	}
	n := new(big.Int).Mul(p.EntryPrice, p.BaseSize)
	return n.Quo(n, Wad)
}

// Leverage is entryNotional/margin. Notional carries 18 decimals and margin
// the collateral's 6, so both are scaled before dividing. A zero margin yields
// zero rather than a division panic.
func (p Position) Leverage() decimal.Decimal {
	if p.EntryNotional == nil || p.Margin == nil || p.Margin.Sign() == 0 {
		return decimal.Zero
	}
	notional := decimal.NewFromBigInt(p.EntryNotional, -18)
	margin := decimal.NewFromBigInt(p.Margin, -6)
	return notional.DivRound(margin, 18)
}
