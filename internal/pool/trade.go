// internal/pool/trade.go
package pool

import (
	"github.com/shopspring/decimal"

	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/state"
)

// OpenResult reports the settlement of an open/increase fill.
type OpenResult struct {
	FeePaid    decimal.Decimal // position fee, collateral units
	FundingFee decimal.Decimal // settled on the pre-existing size, collateral units
	EntryPrice decimal.Decimal // new weighted-average entry
	Size       decimal.Decimal // resulting position size
	Collateral decimal.Decimal // resulting collateral
}

// CloseResult reports the settlement of a close/decrease fill.
type CloseResult struct {
	PnL           decimal.Decimal // capped realized PnL, USD; negative on loss
	FeePaid       decimal.Decimal // position fee actually charged, USD
	FundingFee    decimal.Decimal // collateral units
	ProfitPaid    decimal.Decimal // profit asset units paid to the owner, net of the fee
	Withdrawn     decimal.Decimal // collateral units returned on withdraw-all
	RemainingSize decimal.Decimal
	RemainingColl decimal.Decimal
}

// resolve loads the underlying and collateral assets of a subaccount and
// their effective prices.
func (p *Pool) resolve(id state.SubAccountID, prices state.Prices) (a, collAsset *state.Asset, assetPrice, collPrice decimal.Decimal, err error) {
	a, err = p.registry.Get(id.AssetID)
	if err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, err
	}
	collAsset, err = p.registry.Get(id.CollateralID)
	if err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, err
	}
	assetPrice = p.priceOf(a, prices.Asset)
	collPrice = p.priceOf(collAsset, prices.Collateral)
	return a, collAsset, assetPrice, collPrice, nil
}

// marginValue is collateral value plus unrealized PnL at price, in USD.
func marginValue(id state.SubAccountID, collateral, collPrice, size, entry, price decimal.Decimal) decimal.Decimal {
	value := fpmath.WadMul(collateral, collPrice)
	if size.Sign() > 0 {
		value = value.Add(fpmath.RealizedPnL(id.IsLong, price, entry, size))
	}
	return value
}

// OpenOrIncrease opens or grows a position. collateralDelta sits in the
// owner's order escrow and moves into position collateral. The entry and the
// position fee price at fillPrice, the trading price of the execution; margin
// and the reserve invariant are judged at the reported index price. Funding
// owed on the pre-existing size settles first.
func (p *Pool) OpenOrIncrease(
	bld *ledger.Builder,
	id state.SubAccountID,
	collateralDelta, sizeDelta decimal.Decimal,
	fillPrice decimal.Decimal,
	prices state.Prices,
	now int64,
) (OpenResult, error) {
	var res OpenResult
	if sizeDelta.Sign() <= 0 {
		return res, ErrZeroAmount
	}
	a, collAsset, assetPrice, collPrice, err := p.resolve(id, prices)
	if err != nil {
		return res, err
	}
	if !a.IsTradable() || !a.IsOpenable() || !a.IsEnabled() {
		return res, ErrAssetDisabled
	}
	if !id.IsLong && !a.IsShortable() {
		return res, ErrAssetDisabled
	}
	if !collAsset.IsStable() || !collAsset.IsEnabled() {
		return res, ErrCollateralNotStable
	}

	// Stage every number against a copy; the store entry is only created once
	// all checks pass.
	var cur state.Position
	if existing := p.positions.Get(id); existing != nil {
		cur = *existing
	}
	fundingUSD := fundingOwedUSD(a, id, &cur)
	fundingUnits := fpmath.Min(fpmath.WadDiv(fundingUSD, collPrice), cur.Collateral.Add(collateralDelta))
	feeUSD := fpmath.WadMul(fpmath.WadMul(fillPrice, sizeDelta), a.PositionFeeRate)
	feeUnits := fpmath.WadDiv(feeUSD, collPrice)

	newCollateral := cur.Collateral.Add(collateralDelta).Sub(fundingUnits).Sub(feeUnits)
	if newCollateral.Sign() < 0 {
		return res, ErrInsufficientCollateral
	}

	newSize := cur.Size.Add(sizeDelta)
	newEntry := fpmath.AvgEntryPrice(cur.Size, cur.EntryPrice, sizeDelta, fillPrice)

	if cap := a.MaxLongPositionSize; id.IsLong && cap.Sign() > 0 && a.TotalLongSize.Add(sizeDelta).GreaterThan(cap) {
		return res, ErrPositionSizeCap
	}
	if cap := a.MaxShortPositionSize; !id.IsLong && cap.Sign() > 0 && a.TotalShortSize.Add(sizeDelta).GreaterThan(cap) {
		return res, ErrPositionSizeCap
	}

	margin := marginValue(id, newCollateral, collPrice, newSize, newEntry, assetPrice)
	required := fpmath.WadMul(fpmath.WadMul(newSize, assetPrice), a.InitialMarginRate)
	if margin.LessThan(required) {
		return res, ErrUnsafePosition
	}

	if rate := a.AdlReserveRate; rate.Sign() > 0 {
		totalOI := a.TotalLongSize.Add(a.TotalShortSize).Add(sizeDelta)
		reserved := fpmath.WadMul(fpmath.WadMul(totalOI, assetPrice), rate)
		if reserved.GreaterThan(fpmath.WadMul(collAsset.SpotLiquidity, collPrice)) {
			return res, ErrInsufficientReserve
		}
	}

	// All checks passed; settle.
	pos := p.positions.GetOrCreate(id)
	posAcct := ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID)
	bld.Transfer(ledger.JournalTypeOrderEscrow,
		ledger.UserAccount(id.Owner, ledger.SubTypeOrderEscrow, collAsset.ID), posAcct, collateralDelta)
	pos.Collateral = pos.Collateral.Add(collateralDelta)

	p.settleFunding(bld, id, pos, a, collAsset, collPrice)
	if feeUnits.Sign() > 0 {
		p.dist.Distribute(bld, id.Owner, posAcct, feeUnits, collAsset.ID)
		pos.Collateral = pos.Collateral.Sub(feeUnits)
	}

	pos.EntryPrice = newEntry
	pos.Size = newSize
	pos.EntryFunding = a.CumulativeFunding(id.IsLong)
	pos.LastIncreasedAt = now
	a.IncreaseOpenInterest(id.IsLong, sizeDelta, fillPrice)

	res = OpenResult{
		FeePaid:    feeUnits,
		FundingFee: fundingUnits,
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
		Collateral: pos.Collateral,
	}
	p.log.Debug().
		Str("subaccount", id.String()).
		Str("size", pos.Size.String()).
		Str("entry", pos.EntryPrice.String()).
		Msg("position increased")
	return res, nil
}

type closeOptions struct {
	skipMinProfit      bool
	shouldReachProfit  bool
	withdrawAllIfEmpty bool
}

// CloseOrDecrease closes part or all of a position at fillPrice, the trading
// price of the execution, realizing capped PnL and charging funding and
// position fees.
func (p *Pool) CloseOrDecrease(
	bld *ledger.Builder,
	id state.SubAccountID,
	sizeDelta decimal.Decimal,
	fillPrice decimal.Decimal,
	prices state.Prices,
	profitAssetID uint8,
	shouldReachMinProfit, withdrawAllIfEmpty bool,
	now int64,
) (CloseResult, error) {
	return p.closePosition(bld, id, sizeDelta, fillPrice, prices, profitAssetID, closeOptions{
		shouldReachProfit:  shouldReachMinProfit,
		withdrawAllIfEmpty: withdrawAllIfEmpty,
	}, now)
}

func (p *Pool) closePosition(
	bld *ledger.Builder,
	id state.SubAccountID,
	sizeDelta decimal.Decimal,
	fillPrice decimal.Decimal,
	prices state.Prices,
	profitAssetID uint8,
	opts closeOptions,
	now int64,
) (CloseResult, error) {
	var res CloseResult
	if sizeDelta.Sign() <= 0 {
		return res, ErrZeroAmount
	}
	a, collAsset, _, collPrice, err := p.resolve(id, prices)
	if err != nil {
		return res, err
	}
	pos := p.positions.Get(id)
	if pos == nil || pos.Size.IsZero() {
		return res, ErrEmptyPosition
	}
	if sizeDelta.GreaterThan(pos.Size) {
		sizeDelta = pos.Size
	}
	profAsset, err := p.registry.Get(profitAssetID)
	if err != nil {
		return res, err
	}
	profPrice := p.priceOf(profAsset, prices.Profit)

	// Raw PnL at the trading price, then the profit cap against the closed
	// portion's entry notional.
	pnl := fpmath.RealizedPnL(id.IsLong, fillPrice, pos.EntryPrice, sizeDelta)
	maxProfit := fpmath.WadMul(a.AdlMaxPnlRate, fpmath.WadMul(pos.EntryPrice, sizeDelta))
	if a.AdlMaxPnlRate.Sign() > 0 && pnl.GreaterThan(maxProfit) {
		pnl = maxProfit
	}

	if opts.shouldReachProfit && !opts.skipMinProfit && pnl.Sign() > 0 {
		elapsed := now - pos.LastIncreasedAt
		roe := fpmath.WadDiv(pnl, fpmath.WadMul(pos.EntryPrice, sizeDelta))
		if elapsed < a.MinProfitTime && roe.LessThan(a.MinProfitRate) {
			return res, ErrProfitTooEarly
		}
	}

	feeUSD := fpmath.WadMul(fpmath.WadMul(fillPrice, sizeDelta), a.PositionFeeRate)

	// A profitable close pays its fee out of the profit payout; the
	// collateral only covers whatever the profit cannot.
	feeFromProfitUSD := decimal.Zero
	var profitUnits, feeProfitUnits decimal.Decimal
	if pnl.Sign() > 0 {
		feeFromProfitUSD = fpmath.Min(feeUSD, pnl)
		profitUnits = fpmath.WadDiv(pnl, profPrice)
		feeProfitUnits = fpmath.WadDiv(feeFromProfitUSD, profPrice)
		if profAsset.SpotLiquidity.LessThan(profitUnits) {
			return res, ErrInsufficientLiquidity
		}
	}

	// All checks passed; settle.
	posAcct := ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID)
	walletColl := ledger.UserAccount(id.Owner, ledger.SubTypeWallet, collAsset.ID)
	poolColl := ledger.SystemAccount(ledger.SubTypePoolLiquidity, collAsset.ID)

	res.FundingFee = p.settleFunding(bld, id, pos, a, collAsset, collPrice)

	feeUnits := fpmath.Min(fpmath.WadDiv(feeUSD.Sub(feeFromProfitUSD), collPrice), pos.Collateral)
	if feeUnits.Sign() > 0 {
		p.dist.Distribute(bld, id.Owner, posAcct, feeUnits, collAsset.ID)
		pos.Collateral = pos.Collateral.Sub(feeUnits)
	}
	res.FeePaid = feeFromProfitUSD.Add(fpmath.WadMul(feeUnits, collPrice))

	if pnl.Sign() > 0 {
		poolProf := ledger.SystemAccount(ledger.SubTypePoolLiquidity, profAsset.ID)
		netUnits := profitUnits.Sub(feeProfitUnits)
		bld.Transfer(ledger.JournalTypeTradeProfit, poolProf,
			ledger.UserAccount(id.Owner, ledger.SubTypeWallet, profAsset.ID), netUnits)
		if feeProfitUnits.Sign() > 0 {
			p.dist.Distribute(bld, id.Owner, poolProf, feeProfitUnits, profAsset.ID)
		}
		profAsset.SpotLiquidity = profAsset.SpotLiquidity.Sub(profitUnits)
		res.ProfitPaid = netUnits
	} else if pnl.Sign() < 0 {
		lossUnits := fpmath.Min(fpmath.WadDiv(pnl.Neg(), collPrice), pos.Collateral)
		bld.Transfer(ledger.JournalTypeTradeLoss, posAcct, poolColl, lossUnits)
		pos.Collateral = pos.Collateral.Sub(lossUnits)
		collAsset.SpotLiquidity = collAsset.SpotLiquidity.Add(lossUnits)
	}
	res.PnL = pnl

	pos.Size = pos.Size.Sub(sizeDelta)
	a.DecreaseOpenInterest(id.IsLong, sizeDelta)

	if pos.Size.IsZero() {
		pos.ClearEntry()
		if opts.withdrawAllIfEmpty && pos.Collateral.Sign() > 0 {
			res.Withdrawn = pos.Collateral
			bld.Transfer(ledger.JournalTypeCollateralReturn, posAcct, walletColl, pos.Collateral)
			pos.Collateral = decimal.Zero
		}
		p.positions.Prune(id)
	}
	res.RemainingSize = pos.Size
	res.RemainingColl = pos.Collateral

	p.log.Debug().
		Str("subaccount", id.String()).
		Str("closed", sizeDelta.String()).
		Str("pnl", pnl.String()).
		Msg("position decreased")
	return res, nil
}

// DepositCollateral moves amount from the owner's wallet straight into
// position collateral, creating the position on first use. No pricing is
// involved.
func (p *Pool) DepositCollateral(bld *ledger.Builder, id state.SubAccountID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	collAsset, err := p.registry.Get(id.CollateralID)
	if err != nil {
		return err
	}
	if !collAsset.IsStable() || !collAsset.IsEnabled() {
		return ErrCollateralNotStable
	}
	if _, err := p.registry.Get(id.AssetID); err != nil {
		return err
	}
	wallet := ledger.UserAccount(id.Owner, ledger.SubTypeWallet, collAsset.ID)
	if err := p.balances.ValidateSufficient(wallet, amount); err != nil {
		return err
	}
	pos := p.positions.GetOrCreate(id)
	bld.Transfer(ledger.JournalTypeDeposit, wallet,
		ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID), amount)
	pos.Collateral = pos.Collateral.Add(amount)
	return nil
}

// WithdrawAllCollateral empties a flat subaccount back into the wallet.
func (p *Pool) WithdrawAllCollateral(bld *ledger.Builder, id state.SubAccountID) (decimal.Decimal, error) {
	pos := p.positions.Get(id)
	if pos == nil || pos.Collateral.IsZero() {
		return decimal.Zero, ErrEmptyPosition
	}
	if pos.Size.Sign() > 0 {
		return decimal.Zero, ErrUnsafePosition
	}
	amount := pos.Collateral
	bld.Transfer(ledger.JournalTypeWithdrawal,
		ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, id.CollateralID),
		ledger.UserAccount(id.Owner, ledger.SubTypeWallet, id.CollateralID), amount)
	pos.Reset()
	p.positions.Prune(id)
	return amount, nil
}

// WithdrawCollateral settles a withdrawal order: funding settles first, then
// either principal collateral or realized profit leaves the position. The
// remaining position must stay above the initial margin rate.
func (p *Pool) WithdrawCollateral(
	bld *ledger.Builder,
	id state.SubAccountID,
	amount decimal.Decimal,
	prices state.Prices,
	profitAssetID uint8,
	fromProfit bool,
) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrZeroAmount
	}
	a, collAsset, assetPrice, collPrice, err := p.resolve(id, prices)
	if err != nil {
		return decimal.Zero, err
	}
	pos := p.positions.Get(id)
	if pos == nil || pos.IsEmpty() {
		return decimal.Zero, ErrEmptyPosition
	}

	fundingUSD := fundingOwedUSD(a, id, pos)
	fundingUnits := fpmath.Min(fpmath.WadDiv(fundingUSD, collPrice), pos.Collateral)

	if fromProfit {
		profAsset, err := p.registry.Get(profitAssetID)
		if err != nil {
			return decimal.Zero, err
		}
		profPrice := p.priceOf(profAsset, prices.Profit)
		amountUSD := fpmath.WadMul(amount, profPrice)

		pnl := fpmath.RealizedPnL(id.IsLong, assetPrice, pos.EntryPrice, pos.Size)
		if pnl.LessThan(amountUSD) {
			return decimal.Zero, ErrInsufficientCollateral
		}
		if profAsset.SpotLiquidity.LessThan(amount) {
			return decimal.Zero, ErrInsufficientLiquidity
		}
		// Realize the withdrawn profit by shifting the entry price toward
		// the mark.
		shift := fpmath.WadDiv(amountUSD, pos.Size)
		newEntry := pos.EntryPrice.Add(shift)
		if !id.IsLong {
			newEntry = pos.EntryPrice.Sub(shift)
		}
		newColl := pos.Collateral.Sub(fundingUnits)
		margin := marginValue(id, newColl, collPrice, pos.Size, newEntry, assetPrice)
		required := fpmath.WadMul(fpmath.WadMul(pos.Size, assetPrice), a.InitialMarginRate)
		if margin.LessThan(required) {
			return decimal.Zero, ErrUnsafePosition
		}

		p.settleFunding(bld, id, pos, a, collAsset, collPrice)
		bld.Transfer(ledger.JournalTypeTradeProfit,
			ledger.SystemAccount(ledger.SubTypePoolLiquidity, profAsset.ID),
			ledger.UserAccount(id.Owner, ledger.SubTypeWallet, profAsset.ID), amount)
		profAsset.SpotLiquidity = profAsset.SpotLiquidity.Sub(amount)
		pos.EntryPrice = newEntry
		return amount, nil
	}

	newColl := pos.Collateral.Sub(fundingUnits).Sub(amount)
	if newColl.Sign() < 0 {
		return decimal.Zero, ErrInsufficientCollateral
	}
	if pos.Size.Sign() > 0 {
		margin := marginValue(id, newColl, collPrice, pos.Size, pos.EntryPrice, assetPrice)
		required := fpmath.WadMul(fpmath.WadMul(pos.Size, assetPrice), a.InitialMarginRate)
		if margin.LessThan(required) {
			return decimal.Zero, ErrUnsafePosition
		}
	}

	p.settleFunding(bld, id, pos, a, collAsset, collPrice)
	bld.Transfer(ledger.JournalTypeWithdrawal,
		ledger.UserAccount(id.Owner, ledger.SubTypePositionCollateral, collAsset.ID),
		ledger.UserAccount(id.Owner, ledger.SubTypeWallet, collAsset.ID), amount)
	pos.Collateral = pos.Collateral.Sub(amount)
	p.positions.Prune(id)
	return amount, nil
}
