// Package units converts between the ledger's fixed-point integers and
// human-readable decimals. Rounding happens here and nowhere else.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CollateralDecimals is the scale of the collateral token.
	CollateralDecimals int32 = 6
	// WadDecimals is the scale of vAMM, price and position quantities.
	WadDecimals int32 = 18
)

// ToDecimal interprets raw as a fixed-point integer with the given scale.
func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// FromDecimal scales d back to a fixed-point integer, truncating anything
// finer than the scale.
func FromDecimal(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// Collateral is ToDecimal at the collateral scale.
func Collateral(raw *big.Int) decimal.Decimal { return ToDecimal(raw, CollateralDecimals) }

// Wad is ToDecimal at the 18-decimal scale.
func Wad(raw *big.Int) decimal.Decimal { return ToDecimal(raw, WadDecimals) }

// Format renders raw with exactly places fractional digits, rounding half
// away from zero. Pass places < 0 to keep the full scale.
func Format(raw *big.Int, decimals, places int32) string {
	d := ToDecimal(raw, decimals)
	if places < 0 {
		return d.StringFixed(decimals)
	}
	return d.StringFixed(places)
}

// Parse reads a human-readable amount into a fixed-point integer. More
// fractional digits than the scale allows is an error rather than a silent
// truncation.
func Parse(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("units: parse: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	if -d.Exponent() > decimals && !d.Equal(d.Truncate(decimals)) {
		return nil, fmt.Errorf("units: parse %q: more than %d decimals", s, decimals)
	}
	return FromDecimal(d, decimals), nil
}

// ParseCollateral is Parse at the collateral scale.
func ParseCollateral(s string) (*big.Int, error) { return Parse(s, CollateralDecimals) }

// FormatCollateral renders a collateral amount with two decimals.
func FormatCollateral(raw *big.Int) string { return Format(raw, CollateralDecimals, 2) }
