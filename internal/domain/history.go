package domain

import (
	"math/big"
	"time"
)

// IndexMeta is the history indexer's own view of its progress.
type IndexMeta struct {
	Block             uint64 `json:"block"`
	HasIndexingErrors bool   `json:"has_indexing_errors"`
}

// TradeRecord is one indexed open/close/liquidation.
type TradeRecord struct {
	ID         string    `json:"id"`
	Market     string    `json:"market"`
	PositionID *big.Int  `json:"position_id"`
	User       string    `json:"user"`
	Kind       string    `json:"kind"`
	Side       Side      `json:"side"`
	BaseSize   *big.Int  `json:"base_size"`
	Price      *big.Int  `json:"price"`
	PnL        *big.Int  `json:"pnl,omitempty"`
	TxHash     string    `json:"tx_hash"`
	Block      uint64    `json:"block"`
	Timestamp  time.Time `json:"timestamp"`
}

// Candle is an OHLC bar of mark prices.
type Candle struct {
	Start  time.Time `json:"start"`
	Open   *big.Int  `json:"open"`
	High   *big.Int  `json:"high"`
	Low    *big.Int  `json:"low"`
	Close  *big.Int  `json:"close"`
	Volume *big.Int  `json:"volume"`
}

// MarketHistory is the best-effort analytics bundle for one market. Ready is
// false when the indexer could not serve the request; the slices are then
// empty rather than nil.
type MarketHistory struct {
	Ready     bool          `json:"ready"`
	Trades    []TradeRecord `json:"trades"`
	Candles   []Candle      `json:"candles"`
	Volume24h *big.Int      `json:"volume_24h"`
}
