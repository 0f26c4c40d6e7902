package domain

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wad(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func TestExpectedNotionalMatchesRegistry(t *testing.T) {
	cases := []struct {
		entry, size string
	}{
		{"100", "5"},
		{"187.345", "0.333333333333333333"},
		{"0.000001", "123456.789"},
	}
	for _, tc := range cases {
		t.Run(tc.entry+"x"+tc.size, func(t *testing.T) {
			entry, size := wad(tc.entry), wad(tc.size)
			// The registry stores entryPrice*baseSize/1e18, truncated.
			stored := new(big.Int).Mul(entry, size)
			stored.Quo(stored, Wad)

			p := Position{EntryPrice: entry, BaseSize: size, EntryNotional: stored}
			diff := new(big.Int).Sub(p.ExpectedNotional(), p.EntryNotional)
			assert.LessOrEqual(t, diff.CmpAbs(big.NewInt(1)), 0, "within one wei of rounding")
		})
	}

	assert.Nil(t, Position{BaseSize: wad("1")}.ExpectedNotional())
}

func TestLeverage(t *testing.T) {
	p := Position{EntryNotional: wad("500"), Margin: big.NewInt(100_000_000)}
	assert.True(t, p.Leverage().Equal(decimal.NewFromInt(5)), "got %s", p.Leverage())

	p.Margin = big.NewInt(0)
	assert.True(t, p.Leverage().IsZero())
}

func TestSideHelpers(t *testing.T) {
	assert.Equal(t, 1, SideLong.Sign())
	assert.Equal(t, -1, SideShort.Sign())
	assert.Equal(t, SideShort, SideFromLong(false))
	assert.True(t, SideLong.Valid())
	assert.False(t, Side("flat").Valid())
}

func TestPositionStatusFromCode(t *testing.T) {
	assert.Equal(t, PositionStatusOpen, PositionStatusFromCode(0))
	assert.Equal(t, PositionStatusClosed, PositionStatusFromCode(1))
	assert.Equal(t, PositionStatusLiquidated, PositionStatusFromCode(2))
}

func TestMarkDeviationBps(t *testing.T) {
	st := MarketState{BaseReserve: wad("1000"), QuoteReserve: wad("1000"), MarkPrice: wad("1")}
	assert.Equal(t, int64(0), st.MarkDeviationBps())
	assert.Equal(t, 0, st.ImpliedMark().Cmp(Wad))

	st.MarkPrice = wad("1.01")
	assert.Equal(t, int64(99), st.MarkDeviationBps())

	k := st.ConstantProduct()
	require.NotNil(t, k)
	assert.Equal(t, 0, k.Cmp(new(big.Int).Mul(wad("1000"), wad("1000"))))

	assert.Equal(t, int64(0), MarketState{MarkPrice: wad("1")}.MarkDeviationBps(), "unknown reserves")
}

func TestStale(t *testing.T) {
	now := time.Now()
	assert.True(t, MarketState{}.Stale(now, time.Minute))
	assert.False(t, MarketState{FetchedAt: now.Add(-time.Second)}.Stale(now, 6*time.Second))
	assert.True(t, MarketState{FetchedAt: now.Add(-10 * time.Second)}.Stale(now, 6*time.Second))
}

func TestTradeErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	te := &TradeError{Kind: KindConnectivity, Code: CodeNetwork, Message: "rpc unreachable", Cause: cause}
	wrapped := fmt.Errorf("view: %w", te)

	got, ok := AsTradeError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindConnectivity, got.Kind)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, HasCode(wrapped, CodeNetwork))
	assert.False(t, HasCode(errors.New("plain"), CodeNetwork))
	assert.Equal(t, "NETWORK: rpc unreachable: connection refused", te.Error())
	assert.Equal(t, "INVALID_AMOUNT: zero", Preflight(CodeInvalidAmount, "zero").Error())
}

func TestExecutionResultSucceeded(t *testing.T) {
	assert.True(t, ExecutionResult{Status: ExecConfirmed}.Succeeded())
	assert.False(t, ExecutionResult{Status: ExecConfirmed, Error: Preflight(CodeReverted, "x")}.Succeeded())
	assert.False(t, ExecutionResult{Status: ExecPending}.Succeeded())
}
