package vamm

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pool(t *testing.T, b, q string) Pool {
	t.Helper()
	p, err := NewPool(d(b), d(q))
	require.NoError(t, err)
	return p
}

func TestOpenLongReference(t *testing.T) {
	p := pool(t, "1000", "1000")
	assert.True(t, p.Mark().Equal(decimal.NewFromInt(1)))

	pv, err := p.OpenLong(d("100"))
	require.NoError(t, err)
	assert.Equal(t, "90.909", pv.Base.StringFixed(3))
	assert.Equal(t, "1.10", pv.AvgPrice.StringFixed(2))
	assert.Equal(t, "10.0", pv.SlippagePct.StringFixed(1))
	assert.True(t, pv.SlippagePct.IsPositive())
	assert.Equal(t, "1.21", pv.PostMark.StringFixed(2))
}

func TestOpenLongAvgNeverBelowMark(t *testing.T) {
	pools := [][2]string{{"1000", "1000"}, {"50", "7000"}, {"123456.789", "0.5"}}
	notionals := []string{"0.000001", "1", "99.5", "10000"}
	for _, pr := range pools {
		p := pool(t, pr[0], pr[1])
		for _, n := range notionals {
			pv, err := p.OpenLong(d(n))
			require.NoError(t, err)
			assert.True(t, pv.AvgPrice.GreaterThanOrEqual(pv.Mark), "pool %v notional %s", pr, n)
			assert.False(t, pv.SlippagePct.IsNegative())
		}
	}
}

func TestOpenShortReference(t *testing.T) {
	p := pool(t, "1000", "1000")
	pv, err := p.OpenShort(d("100"))
	require.NoError(t, err)
	assert.Equal(t, "111.111", pv.Base.StringFixed(3))
	assert.Equal(t, "0.90", pv.AvgPrice.StringFixed(2))
	assert.Equal(t, "10.0", pv.SlippagePct.StringFixed(1))
	assert.True(t, pv.AvgPrice.LessThanOrEqual(pv.Mark))

	_, err = p.OpenShort(d("1000"))
	assert.ErrorIs(t, err, ErrExceedsPool)
}

func TestCloseUnwindsOpen(t *testing.T) {
	p := pool(t, "1000", "1000")
	open, err := p.OpenLong(d("100"))
	require.NoError(t, err)

	after := Pool{Base: p.Base.Sub(open.Base), Quote: p.Quote.Add(open.Notional)}
	closed, err := after.CloseLong(open.Base)
	require.NoError(t, err)
	assert.Equal(t, "100.000000", closed.Notional.StringFixed(6))
	assert.False(t, closed.SlippagePct.IsNegative())
}

func TestCloseShort(t *testing.T) {
	p := pool(t, "1000", "1000")
	pv, err := p.Close(domain.SideShort, d("100"))
	require.NoError(t, err)
	assert.Equal(t, "111.111", pv.Notional.StringFixed(3))
	assert.True(t, pv.AvgPrice.GreaterThan(pv.Mark))

	_, err = p.CloseShort(d("1000"))
	assert.ErrorIs(t, err, ErrExceedsPool)
}

func TestInvalidInputs(t *testing.T) {
	_, err := NewPool(decimal.Zero, d("1"))
	assert.ErrorIs(t, err, ErrEmptyPool)

	p := pool(t, "10", "10")
	_, err = p.Open(domain.SideLong, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = p.Close(domain.SideLong, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestKDrift(t *testing.T) {
	before := domain.MarketState{
		BaseReserve:  units.FromDecimal(d("1000"), 18),
		QuoteReserve: units.FromDecimal(d("1000"), 18),
	}
	same := domain.MarketState{
		BaseReserve:  units.FromDecimal(d("800"), 18),
		QuoteReserve: units.FromDecimal(d("1250"), 18),
	}
	drift, err := KDriftBps(before, same)
	require.NoError(t, err)
	assert.True(t, drift.IsZero())

	grown := domain.MarketState{
		BaseReserve:  units.FromDecimal(d("1010"), 18),
		QuoteReserve: units.FromDecimal(d("1000"), 18),
	}
	drift, err = KDriftBps(before, grown)
	require.NoError(t, err)
	assert.Equal(t, "100", drift.StringFixed(0))
}
