// internal/math/wad.go
package math

import (
	"github.com/shopspring/decimal"
)

// All venue quantities (prices, sizes, collateral, rates, pool shares) are
// 18-decimal fixed-point values. Operations truncate toward zero at 18
// fractional digits so that results match what an integer wad engine would
// produce.

const WadDecimals = 18

// Intermediate division precision. Wide enough that a single truncation at
// WadDecimals is the only precision loss per operation.
const divPrecision = 36

var (
	Zero = decimal.Zero
	One  = decimal.New(1, 0)
)

// Wad parses a decimal string. Panics on malformed input; use only for
// constants and test fixtures.
func Wad(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("math: bad wad literal " + s)
	}
	return d
}

// WadInt converts a whole-unit integer to a wad value.
func WadInt(n int64) decimal.Decimal {
	return decimal.New(n, 0)
}

// WadMul multiplies two wad values, truncating to 18 fractional digits.
func WadMul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(WadDecimals)
}

// WadDiv divides a by b, truncating to 18 fractional digits.
// b must be nonzero.
func WadDiv(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divPrecision).Truncate(WadDecimals)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a.Copy()
	}
	return b.Copy()
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a.Copy()
	}
	return b.Copy()
}

// ClampFloor returns a floored at floor.
func ClampFloor(a, floor decimal.Decimal) decimal.Decimal {
	if a.LessThan(floor) {
		return floor.Copy()
	}
	return a.Copy()
}

// AvgEntryPrice computes the size-weighted average entry price after an
// increase of fillSize at fillPrice.
func AvgEntryPrice(oldSize, oldEntry, fillSize, fillPrice decimal.Decimal) decimal.Decimal {
	if oldSize.IsZero() {
		return fillPrice.Copy()
	}
	numer := WadMul(oldSize, oldEntry).Add(WadMul(fillSize, fillPrice))
	return WadDiv(numer, oldSize.Add(fillSize))
}

// RealizedPnL computes (fillPrice - entryPrice) * size for longs, negated for
// shorts. Positive means the trader profits.
func RealizedPnL(isLong bool, fillPrice, entryPrice, size decimal.Decimal) decimal.Decimal {
	diff := fillPrice.Sub(entryPrice)
	if !isLong {
		diff = diff.Neg()
	}
	return WadMul(diff, size)
}

// Notional computes size * price.
func Notional(size, price decimal.Decimal) decimal.Decimal {
	return WadMul(size, price)
}

// IsMultipleOf reports whether amount is an exact nonzero multiple of lot.
// A zero lot size disables the check.
func IsMultipleOf(amount, lot decimal.Decimal) bool {
	if lot.IsZero() {
		return true
	}
	return amount.Mod(lot).IsZero()
}
