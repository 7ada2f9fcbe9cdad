// internal/pool/liquidate.go
package pool

import (
	"github.com/shopspring/decimal"

	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/state"
)

// LiquidationResult reports a completed liquidation.
type LiquidationResult struct {
	Size          decimal.Decimal // size liquidated (always the full position)
	PnL           decimal.Decimal // capped realized PnL, USD
	FeePaid       decimal.Decimal // liquidation + funding fee actually charged, USD
	ReturnedUnits decimal.Decimal // collateral units returned to the owner
}

// Liquidate force-closes an unsafe position at fillPrice, the trading price
// of the forced execution. The margin gate is judged at the reported index
// price; settlement PnL and fees price at fillPrice. Fees are capped at the
// trader's remaining claim so liquidation can never drive a balance negative,
// and the remaining collateral is floored at zero.
func (p *Pool) Liquidate(
	bld *ledger.Builder,
	id state.SubAccountID,
	profitAssetID uint8,
	fillPrice decimal.Decimal,
	prices state.Prices,
) (LiquidationResult, error) {
	var res LiquidationResult
	a, collAsset, assetPrice, collPrice, err := p.resolve(id, prices)
	if err != nil {
		return res, err
	}
	pos := p.positions.Get(id)
	if pos == nil || pos.Size.IsZero() {
		return res, ErrEmptyPosition
	}
	profAsset, err := p.registry.Get(profitAssetID)
	if err != nil {
		return res, err
	}
	profPrice := p.priceOf(profAsset, prices.Profit)

	size := pos.Size
	collateralValue := fpmath.WadMul(pos.Collateral, collPrice)

	maxProfit := fpmath.WadMul(a.AdlMaxPnlRate, fpmath.WadMul(pos.EntryPrice, size))
	indexPnL := fpmath.RealizedPnL(id.IsLong, assetPrice, pos.EntryPrice, size)
	if a.AdlMaxPnlRate.Sign() > 0 && indexPnL.GreaterThan(maxProfit) {
		indexPnL = maxProfit
	}
	required := fpmath.WadMul(fpmath.WadMul(size, assetPrice), a.MaintenanceMarginRate)
	if collateralValue.Add(indexPnL).GreaterThanOrEqual(required) {
		return res, ErrMarginSafe
	}

	pnl := fpmath.RealizedPnL(id.IsLong, fillPrice, pos.EntryPrice, size)
	if a.AdlMaxPnlRate.Sign() > 0 && pnl.GreaterThan(maxProfit) {
		pnl = maxProfit
	}

	fundingUSD := fundingOwedUSD(a, id, pos)
	feeFormulaUSD := fpmath.WadMul(fpmath.WadMul(size, fillPrice), a.LiquidationFeeRate).Add(fundingUSD)

	// Fee is capped at the trader's remaining claim, never creating a
	// negative balance.
	claim := fpmath.ClampFloor(collateralValue.Add(pnl), decimal.Zero)
	feeUSD := fpmath.Min(feeFormulaUSD, claim)

	posAcct := ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID)
	poolColl := ledger.SystemAccount(ledger.SubTypePoolLiquidity, collAsset.ID)
	wallet := ledger.UserAccount(id.Owner, ledger.SubTypeWallet, collAsset.ID)

	if pnl.Sign() >= 0 {
		// Rare: unsafe only through fees. The pool owes the profit; fees
		// come out of collateral first, and any uncovered part out of the
		// pool-paid profit.
		feeColl := fpmath.Min(feeUSD, collateralValue)
		profitPaidUSD := pnl.Sub(feeUSD.Sub(feeColl))
		profitUnits := fpmath.WadDiv(profitPaidUSD, profPrice)
		if profAsset.SpotLiquidity.LessThan(profitUnits) {
			return res, ErrInsufficientLiquidity
		}

		feeUnits := fpmath.WadDiv(feeColl, collPrice)
		if feeUnits.Sign() > 0 {
			p.dist.Distribute(bld, id.Owner, posAcct, feeUnits, collAsset.ID)
			pos.Collateral = pos.Collateral.Sub(feeUnits)
		}
		if profitUnits.Sign() > 0 {
			bld.Transfer(ledger.JournalTypeTradeProfit,
				ledger.SystemAccount(ledger.SubTypePoolLiquidity, profAsset.ID),
				ledger.UserAccount(id.Owner, ledger.SubTypeWallet, profAsset.ID), profitUnits)
			profAsset.SpotLiquidity = profAsset.SpotLiquidity.Sub(profitUnits)
		}
		if pos.Collateral.Sign() > 0 {
			res.ReturnedUnits = pos.Collateral
			bld.Transfer(ledger.JournalTypeCollateralReturn, posAcct, wallet, pos.Collateral)
			pos.Collateral = decimal.Zero
		}
	} else {
		// Loss path: the loss is absorbed into the pool first, then the fee
		// out of what's left, then the floored remainder back to the owner.
		lossUnits := fpmath.Min(fpmath.WadDiv(pnl.Neg(), collPrice), pos.Collateral)
		bld.Transfer(ledger.JournalTypeTradeLoss, posAcct, poolColl, lossUnits)
		pos.Collateral = pos.Collateral.Sub(lossUnits)
		collAsset.SpotLiquidity = collAsset.SpotLiquidity.Add(lossUnits)

		feeUnits := fpmath.Min(fpmath.WadDiv(feeUSD, collPrice), pos.Collateral)
		if feeUnits.Sign() > 0 {
			p.dist.Distribute(bld, id.Owner, posAcct, feeUnits, collAsset.ID)
			pos.Collateral = pos.Collateral.Sub(feeUnits)
		}
		if pos.Collateral.Sign() > 0 {
			res.ReturnedUnits = pos.Collateral
			bld.Transfer(ledger.JournalTypeCollateralReturn, posAcct, wallet, pos.Collateral)
			pos.Collateral = decimal.Zero
		}
	}

	pos.Reset()
	p.positions.Prune(id)
	a.DecreaseOpenInterest(id.IsLong, size)

	res.Size = size
	res.PnL = pnl
	res.FeePaid = feeUSD
	p.log.Info().
		Str("subaccount", id.String()).
		Str("size", size.String()).
		Str("pnl", pnl.String()).
		Str("fee_usd", feeUSD.String()).
		Msg("position liquidated")
	return res, nil
}

// FillAdlOrder force-closes a profitable position to cap the pool's
// aggregate exposure. The trigger is judged at the reported index price: the
// position's unrealized return there must have reached the configured trigger
// rate. From there it follows the close path, settling at fillPrice with the
// limit-price and minimum-profit checks bypassed.
func (p *Pool) FillAdlOrder(
	bld *ledger.Builder,
	id state.SubAccountID,
	sizeDelta decimal.Decimal,
	fillPrice decimal.Decimal,
	prices state.Prices,
	profitAssetID uint8,
	now int64,
) (CloseResult, error) {
	var res CloseResult
	a, _, assetPrice, _, err := p.resolve(id, prices)
	if err != nil {
		return res, err
	}
	pos := p.positions.Get(id)
	if pos == nil || pos.Size.IsZero() {
		return res, ErrEmptyPosition
	}

	rawPnL := fpmath.RealizedPnL(id.IsLong, assetPrice, pos.EntryPrice, pos.Size)
	trigger := fpmath.WadMul(a.AdlTriggerRate, fpmath.WadMul(pos.EntryPrice, pos.Size))
	if a.AdlTriggerRate.Sign() > 0 && rawPnL.LessThan(trigger) {
		return res, ErrAdlNotAllowed
	}

	return p.closePosition(bld, id, sizeDelta, fillPrice, prices, profitAssetID, closeOptions{
		skipMinProfit:      true,
		withdrawAllIfEmpty: true,
	}, now)
}
