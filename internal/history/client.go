// Package history queries the venue's subgraph for trade history, candles
// and volume. The indexer lags the ledger and may be unavailable; callers
// go through Index, which degrades to empty results.
package history

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// Client is a GraphQL client for a Goldsky-hosted subgraph that indexes the
// engine's position events.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new subgraph client. A zero timeout uses 15s.
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Meta returns the indexer's progress. A subgraph with indexing errors is
// reported as not ready.
func (c *Client) Meta(ctx context.Context) (domain.IndexMeta, error) {
	res, err := query[struct {
		Meta struct {
			Block struct {
				Number uint64 `json:"number"`
			} `json:"block"`
			HasIndexingErrors bool `json:"hasIndexingErrors"`
		} `json:"_meta"`
	}](ctx, c, "meta", `query Meta { _meta { block { number } hasIndexingErrors } }`, nil)
	if err != nil {
		return domain.IndexMeta{}, err
	}
	meta := domain.IndexMeta{Block: res.Meta.Block.Number, HasIndexingErrors: res.Meta.HasIndexingErrors}
	if meta.HasIndexingErrors {
		return meta, fmt.Errorf("history: meta: %w: subgraph has indexing errors", domain.ErrIndexNotReady)
	}
	return meta, nil
}

type tradeNode struct {
	ID              string `json:"id"`
	Market          string `json:"market"`
	PositionID      string `json:"positionId"`
	User            string `json:"user"`
	Kind            string `json:"kind"`
	IsLong          bool   `json:"isLong"`
	BaseSize        string `json:"baseSize"`
	Price           string `json:"price"`
	PnL             string `json:"pnl"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Timestamp       string `json:"timestamp"`
}

const tradeFields = `
	id market positionId user kind isLong baseSize price pnl
	transactionHash blockNumber timestamp
`

// Trades returns trades in market at or after since, oldest first.
func (c *Client) Trades(ctx context.Context, market string, since time.Time, first int) ([]domain.TradeRecord, error) {
	doc := `
		query Trades($market: String!, $since: BigInt!, $first: Int!) {
			trades(
				first: $first
				orderBy: timestamp
				orderDirection: asc
				where: { market: $market, timestamp_gte: $since }
			) {` + tradeFields + `}
		}
	`
	variables := map[string]any{
		"market": market,
		"since":  strconv.FormatInt(since.Unix(), 10),
		"first":  first,
	}
	return c.queryTrades(ctx, "trades", doc, variables)
}

// PositionHistory returns every indexed trade by user, optionally limited to
// one market, newest first.
func (c *Client) PositionHistory(ctx context.Context, user, market string, first int) ([]domain.TradeRecord, error) {
	where := `{ user: $user }`
	variables := map[string]any{"user": strings.ToLower(user), "first": first}
	decl := `$user: String!, $first: Int!`
	if market != "" {
		where = `{ user: $user, market: $market }`
		variables["market"] = market
		decl += `, $market: String!`
	}
	doc := `
		query PositionHistory(` + decl + `) {
			trades(
				first: $first
				orderBy: timestamp
				orderDirection: desc
				where: ` + where + `
			) {` + tradeFields + `}
		}
	`
	return c.queryTrades(ctx, "position history", doc, variables)
}

func (c *Client) queryTrades(ctx context.Context, op, doc string, variables map[string]any) ([]domain.TradeRecord, error) {
	res, err := query[struct {
		Trades []tradeNode `json:"trades"`
	}](ctx, c, op, doc, variables)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TradeRecord, 0, len(res.Trades))
	for _, n := range res.Trades {
		out = append(out, domain.TradeRecord{
			ID:         n.ID,
			Market:     n.Market,
			PositionID: parseBig(n.PositionID),
			User:       n.User,
			Kind:       n.Kind,
			Side:       domain.SideFromLong(n.IsLong),
			BaseSize:   parseBig(n.BaseSize),
			Price:      parseBig(n.Price),
			PnL:        parseBigOrNil(n.PnL),
			TxHash:     n.TransactionHash,
			Block:      parseUint(n.BlockNumber),
			Timestamp:  time.Unix(int64(parseUint(n.Timestamp)), 0).UTC(),
		})
	}
	return out, nil
}

type candleNode struct {
	Start  string `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// Candles returns OHLC bars for market. interval is the subgraph's bucket
// name, e.g. "1h" or "1d".
func (c *Client) Candles(ctx context.Context, market, interval string, since time.Time) ([]domain.Candle, error) {
	doc := `
		query Candles($market: String!, $interval: String!, $since: BigInt!) {
			candles(
				first: 1000
				orderBy: start
				orderDirection: asc
				where: { market: $market, interval: $interval, start_gte: $since }
			) {
				start open high low close volume
			}
		}
	`
	res, err := query[struct {
		Candles []candleNode `json:"candles"`
	}](ctx, c, "candles", doc, map[string]any{
		"market":   market,
		"interval": interval,
		"since":    strconv.FormatInt(since.Unix(), 10),
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(res.Candles))
	for _, n := range res.Candles {
		out = append(out, domain.Candle{
			Start:  time.Unix(int64(parseUint(n.Start)), 0).UTC(),
			Open:   parseBig(n.Open),
			High:   parseBig(n.High),
			Low:    parseBig(n.Low),
			Close:  parseBig(n.Close),
			Volume: parseBig(n.Volume),
		})
	}
	return out, nil
}

// Volume24h sums price*baseSize (18 decimals) over the market's trades in
// the 24 hours before now.
func (c *Client) Volume24h(ctx context.Context, market string, now time.Time) (*big.Int, error) {
	trades, err := c.Trades(ctx, market, now.Add(-24*time.Hour), 1000)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, t := range trades {
		n := new(big.Int).Mul(t.Price, t.BaseSize)
		total.Add(total, n.Quo(n, domain.Wad))
	}
	return total, nil
}

func parseBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func parseBigOrNil(s string) *big.Int {
	if s == "" {
		return nil
	}
	return parseBig(s)
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}
