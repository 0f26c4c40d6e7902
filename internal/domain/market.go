package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Contracts are the ledger addresses that make up one market. Position ids are
// scoped to a Contracts set, so they are never globally unique.
type Contracts struct {
	Engine           common.Address `json:"engine"`
	VAMM             common.Address `json:"vamm"`
	PositionRegistry common.Address `json:"position_registry"`
	ChainID          int64          `json:"chain_id"`
	DeploymentBlock  uint64         `json:"deployment_block"`
}

// Valid reports whether every address is set.
func (c Contracts) Valid() bool {
	var zero common.Address
	return c.Engine != zero && c.VAMM != zero && c.PositionRegistry != zero
}

// MarketMetadata is the descriptive, off-chain part of a market.
type MarketMetadata struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
}

// Market joins off-chain metadata with the ledger contracts that back it.
type Market struct {
	MarketMetadata
	Contracts Contracts `json:"contracts"`
}

// MarketState is a point-in-time read of the vAMM. All quantities carry 18
// decimals.
type MarketState struct {
	Slug         string    `json:"slug"`
	MarkPrice    *big.Int  `json:"mark_price"`
	BaseReserve  *big.Int  `json:"base_reserve"`
	QuoteReserve *big.Int  `json:"quote_reserve"`
	LongOI       *big.Int  `json:"long_oi"`
	ShortOI      *big.Int  `json:"short_oi"`
	Block        uint64    `json:"block"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ConstantProduct returns baseReserve*quoteReserve, or nil when either reserve
// is unknown.
func (s MarketState) ConstantProduct() *big.Int {
	if s.BaseReserve == nil || s.QuoteReserve == nil {
		return nil
	}
	return new(big.Int).Mul(s.BaseReserve, s.QuoteReserve)
}

// ImpliedMark returns quoteReserve/baseReserve scaled to 18 decimals.
func (s MarketState) ImpliedMark() *big.Int {
	if s.BaseReserve == nil || s.QuoteReserve == nil || s.BaseReserve.Sign() == 0 {
		return nil
	}
	num := new(big.Int).Mul(s.QuoteReserve, Wad)
	return num.Quo(num, s.BaseReserve)
}

// MarkDeviationBps compares the reported mark price with the reserve ratio and
// returns the absolute deviation in basis points. It is advisory: the ledger's
// mark is authoritative and may differ by rounding.
func (s MarketState) MarkDeviationBps() int64 {
	implied := s.ImpliedMark()
	if implied == nil || s.MarkPrice == nil || s.MarkPrice.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(implied, s.MarkPrice)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10_000))
	diff.Quo(diff, s.MarkPrice)
	return diff.Int64()
}

// Stale reports whether the snapshot is older than maxAge at now.
func (s MarketState) Stale(now time.Time, maxAge time.Duration) bool {
	return s.FetchedAt.IsZero() || now.Sub(s.FetchedAt) > maxAge
}

// FundBalances are the engine's three collateral pools (6 decimals).
type FundBalances struct {
	Trade     *big.Int `json:"trade"`
	Insurance *big.Int `json:"insurance"`
	Protocol  *big.Int `json:"protocol"`
}
