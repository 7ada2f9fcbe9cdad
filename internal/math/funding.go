// internal/math/funding.go
package math

import (
	"github.com/shopspring/decimal"
)

// SecondsPerYear is the accrual base for funding and borrowing APYs.
const SecondsPerYear = 365 * 24 * 3600

var secondsPerYearDec = decimal.New(SecondsPerYear, 0)

// FundingRate derives the per-year funding rate from open-interest skew.
// longValue and shortValue are notional open interest per side; alpha is the
// skew normalization notional; betaAPY the rate at full skew.
//
//	rate = min(1, |long-short|/alpha) * betaAPY
//
// The rate applies to the heavier side only; HeavierSide reports which.
func FundingRate(longValue, shortValue, alpha, betaAPY decimal.Decimal) decimal.Decimal {
	if alpha.IsZero() {
		return decimal.Zero
	}
	skew := longValue.Sub(shortValue).Abs()
	util := WadDiv(skew, alpha)
	if util.GreaterThan(One) {
		util = One
	}
	return WadMul(util, betaAPY)
}

// HeavierSide reports which side carries the funding rate. A balanced book
// charges neither side funding (borrowing still accrues to both).
func HeavierSide(longValue, shortValue decimal.Decimal) (longsPay, shortsPay bool) {
	switch longValue.Cmp(shortValue) {
	case 1:
		return true, false
	case -1:
		return false, true
	default:
		return false, false
	}
}

// AccrueIndex advances a cumulative funding index by ratePerYear over
// elapsedSeconds. Indices only grow.
func AccrueIndex(index, ratePerYear decimal.Decimal, elapsedSeconds int64) decimal.Decimal {
	if elapsedSeconds <= 0 || ratePerYear.IsZero() {
		return index.Copy()
	}
	dt := decimal.New(elapsedSeconds, 0)
	return index.Add(WadDiv(WadMul(ratePerYear, dt), secondsPerYearDec))
}

// FundingFee converts an index delta into the fee owed by a position:
// (currentIndex - entryIndex) * size * entryPrice. Never negative.
func FundingFee(currentIndex, entryIndex, size, entryPrice decimal.Decimal) decimal.Decimal {
	delta := currentIndex.Sub(entryIndex)
	if delta.Sign() <= 0 {
		return decimal.Zero
	}
	return WadMul(WadMul(delta, size), entryPrice)
}
