// internal/pool/funding.go
package pool

import (
	"github.com/shopspring/decimal"

	"DegenVenue/internal/config"
	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/state"
)

// UpdateFundingState advances an asset's cumulative funding indices.
// Callable by anyone; idempotent within the same funding interval. Funding
// applies to the heavier side only, borrowing to both. The update moves no
// value; it only advances the indices consumed by later settlements.
func (p *Pool) UpdateFundingState(assetID uint8, now int64) error {
	a, err := p.registry.Get(assetID)
	if err != nil {
		return err
	}
	if !a.IsTradable() {
		return nil
	}

	interval := p.cfg.Seconds(config.KeyFundingInterval)
	if interval <= 0 {
		interval = 3600
	}
	nowTrunc := now - now%interval

	if a.LastFundingTime == 0 {
		a.LastFundingTime = nowTrunc
		return nil
	}
	elapsed := nowTrunc - a.LastFundingTime
	if elapsed <= 0 {
		return nil
	}

	longValue := fpmath.WadMul(a.TotalLongSize, a.AvgLongPrice)
	shortValue := fpmath.WadMul(a.TotalShortSize, a.AvgShortPrice)

	fundingRate := fpmath.FundingRate(longValue, shortValue, a.FundingAlpha, a.FundingBetaAPY)
	longsPay, shortsPay := fpmath.HeavierSide(longValue, shortValue)
	borrowAPY := p.cfg.Decimal(config.KeyBorrowingRateAPY)

	longRate := borrowAPY
	if longsPay {
		longRate = longRate.Add(fundingRate)
	}
	shortRate := borrowAPY
	if shortsPay {
		shortRate = shortRate.Add(fundingRate)
	}

	a.LongCumulativeFunding = fpmath.AccrueIndex(a.LongCumulativeFunding, longRate, elapsed)
	a.ShortCumulativeFunding = fpmath.AccrueIndex(a.ShortCumulativeFunding, shortRate, elapsed)
	a.LastFundingTime = nowTrunc

	p.log.Debug().
		Uint8("asset", assetID).
		Int64("elapsed", elapsed).
		Str("long_index", a.LongCumulativeFunding.String()).
		Str("short_index", a.ShortCumulativeFunding.String()).
		Msg("funding state updated")
	return nil
}

// fundingOwedUSD computes the funding-plus-borrowing fee a position owes
// since its entry funding stamp, in USD.
func fundingOwedUSD(a *state.Asset, id state.SubAccountID, pos *state.Position) decimal.Decimal {
	return fpmath.FundingFee(a.CumulativeFunding(id.IsLong), pos.EntryFunding, pos.Size, pos.EntryPrice)
}

// settleFunding deducts the funding owed from position collateral, routes it
// into the collateral asset's spot liquidity, and re-stamps the entry funding
// index. The deduction is capped at the collateral on hand. Callers invoke it
// only after all of their own validations have passed.
func (p *Pool) settleFunding(
	bld *ledger.Builder,
	id state.SubAccountID,
	pos *state.Position,
	a *state.Asset,
	collAsset *state.Asset,
	collPrice decimal.Decimal,
) decimal.Decimal {
	owedUSD := fundingOwedUSD(a, id, pos)
	if owedUSD.IsZero() {
		pos.EntryFunding = a.CumulativeFunding(id.IsLong)
		return decimal.Zero
	}
	units := fpmath.Min(fpmath.WadDiv(owedUSD, collPrice), pos.Collateral)
	if units.Sign() > 0 {
		bld.Transfer(ledger.JournalTypeFundingFee,
			ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID),
			ledger.SystemAccount(ledger.SubTypePoolLiquidity, collAsset.ID), units)
		pos.Collateral = pos.Collateral.Sub(units)
		collAsset.SpotLiquidity = collAsset.SpotLiquidity.Add(units)
	}
	pos.EntryFunding = a.CumulativeFunding(id.IsLong)
	return units
}
