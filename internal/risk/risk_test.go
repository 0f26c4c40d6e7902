package risk

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLiquidationOrdering(t *testing.T) {
	entries := []string{"0.0001", "1", "84.25", "100", "31337.5"}
	leverages := []string{"1", "1.5", "2", "3", "5", "7.5", "10"}
	for _, e := range entries {
		for _, l := range leverages {
			entry, lev := d(e), d(l)
			long, err := LiquidationPrice(domain.SideLong, entry, lev)
			require.NoError(t, err)
			short, err := LiquidationPrice(domain.SideShort, entry, lev)
			require.NoError(t, err)
			assert.True(t, long.LessThan(entry), "long liq %s entry %s lev %s", long, e, l)
			assert.True(t, entry.LessThan(short), "short liq %s entry %s lev %s", short, e, l)
		}
	}
}

func TestFiveTimesLongBoundary(t *testing.T) {
	liq, err := LiquidationPrice(domain.SideLong, d("100"), d("5"))
	require.NoError(t, err)
	assert.True(t, liq.Equal(d("80")), "got %s", liq)

	calc := NewCalculator(DefaultThresholds())
	for i := 0; i < 1000; i++ {
		dist := DistanceToLiquidation(domain.SideLong, d("84"), liq)
		require.True(t, dist.Equal(d("5")), "got %s", dist)
		require.Equal(t, BucketMedium, calc.Classify(dist))
	}
}

func TestShortDistance(t *testing.T) {
	liq, err := LiquidationPrice(domain.SideShort, d("100"), d("4"))
	require.NoError(t, err)
	assert.True(t, liq.Equal(d("125")))

	dist := DistanceToLiquidation(domain.SideShort, d("120"), liq)
	assert.True(t, dist.Equal(d("4")), "got %s", dist)
	assert.Equal(t, BucketHigh, NewCalculator(Thresholds{}).Classify(dist))

	beyond := DistanceToLiquidation(domain.SideShort, d("130"), liq)
	assert.True(t, beyond.IsNegative())
}

func TestOneTimesLongNeverLiquidates(t *testing.T) {
	liq, err := LiquidationPrice(domain.SideLong, d("100"), d("1"))
	require.NoError(t, err)
	assert.True(t, liq.IsZero())
	assert.Equal(t, BucketLow, NewCalculator(DefaultThresholds()).Classify(DistanceToLiquidation(domain.SideLong, d("50"), liq)))
}

func TestUnrealizedPnL(t *testing.T) {
	pnl := UnrealizedPnL(domain.SideLong, d("100"), d("110"), d("2"), d("5"))
	assert.True(t, pnl.Equal(d("100")))
	assert.True(t, PnLPercent(pnl, d("100"), d("2")).Equal(d("50")))

	short := UnrealizedPnL(domain.SideShort, d("100"), d("110"), d("2"), d("5"))
	assert.True(t, short.Equal(d("-100")))

	assert.True(t, PnLPercent(pnl, decimal.Zero, d("2")).IsZero())
}

func TestClassifyBuckets(t *testing.T) {
	c := NewCalculator(DefaultThresholds())
	tests := []struct {
		dist string
		want Bucket
	}{
		{"-3", BucketHigh},
		{"4.999999", BucketHigh},
		{"5", BucketMedium},
		{"14.99", BucketMedium},
		{"15", BucketLow},
		{"80", BucketLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(d(tt.dist)), tt.dist)
	}
}

func TestAssessPosition(t *testing.T) {
	wad := func(s string) *big.Int { return units.FromDecimal(d(s), 18) }
	pos := domain.Position{
		Side:          domain.SideLong,
		EntryPrice:    wad("100"),
		BaseSize:      wad("1"),
		EntryNotional: wad("100"),
		Margin:        units.FromDecimal(d("20"), 6),
	}
	a, err := NewCalculator(DefaultThresholds()).Assess(pos, wad("84"))
	require.NoError(t, err)
	assert.True(t, a.Leverage.Equal(d("5")))
	assert.True(t, a.LiquidationPrice.Equal(d("80")))
	assert.True(t, a.DistancePct.Equal(d("5")))
	assert.Equal(t, BucketMedium, a.Bucket)
	assert.True(t, a.UnrealizedPnL.Equal(d("-80")))

	_, err = NewCalculator(DefaultThresholds()).Assess(domain.Position{EntryPrice: wad("1")}, wad("1"))
	assert.ErrorIs(t, err, ErrInvalidLeverage)
}
