// internal/book/fill.go
package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/config"
	"DegenVenue/internal/pool"
	"DegenVenue/internal/state"
)

// FillResult reports what a fill settled.
type FillResult struct {
	OrderID    uint64
	Open       *pool.OpenResult
	Close      *pool.CloseResult
	Shares     decimal.Decimal // liquidity adds
	Payout     decimal.Decimal // liquidity removes / withdrawals
	FeePaid    decimal.Decimal
	TpSlOrders []uint64 // auto-derived close orders, when synthesized
}

// checkFillPrice enforces limit/trigger semantics against the trading price
// the broker executed at.
func checkFillPrice(p *PositionOrderPayload, fillPrice decimal.Decimal) error {
	if p.Flags.Has(FlagMarketOrder) {
		return nil
	}
	buy := p.isBuy()
	if p.Flags.Has(FlagTriggerOrder) {
		// Stop semantics: the market must have moved through the trigger.
		buy = !buy
	}
	if buy {
		if fillPrice.GreaterThan(p.Price) {
			return ErrPriceNotMet
		}
	} else {
		if fillPrice.LessThan(p.Price) {
			return ErrPriceNotMet
		}
	}
	return nil
}

// FillOrder executes a queued order against the position ledger. fillPrice is
// the trading price the broker executed at; prices is the reported index
// vector used for margin, funding, and the stable dampener. Broker-only. The
// order is consumed on success; the whole settlement is one journal batch.
func (b *Book) FillOrder(broker uuid.UUID, id uint64, fillPrice decimal.Decimal, prices state.Prices, now int64) (FillResult, error) {
	var res FillResult
	if !b.IsBroker(broker) {
		return res, ErrUnauthorized
	}
	if id >= uint64(len(b.orders)) || !b.orders[id].Active {
		return res, ErrOrderNotFound
	}
	if err := prices.Validate(); err != nil {
		return res, err
	}
	o := b.orders[id]
	res.OrderID = id

	var err error
	switch o.Kind {
	case KindPosition:
		err = b.fillPosition(o, fillPrice, prices, now, &res)
	case KindLiquidity:
		err = b.fillLiquidity(o, prices, now, &res)
	case KindWithdrawal:
		err = b.fillWithdrawal(o, prices, now, &res)
	}
	if err != nil {
		return FillResult{OrderID: id}, err
	}
	if b.notifier != nil {
		b.notifier.OrderFilled(o)
	}
	return res, nil
}

func (b *Book) fillPosition(o *Order, fillPrice decimal.Decimal, prices state.Prices, now int64, res *FillResult) error {
	p := o.Position

	if fillPrice.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if p.Flags.Has(FlagMarketOrder) {
		if now > o.PlacedAt+b.cfg.Seconds(config.KeyMarketOrderTimeout) {
			return ErrOrderExpired
		}
	} else if p.Deadline > 0 && now > p.Deadline {
		return ErrOrderExpired
	}
	if err := checkFillPrice(p, fillPrice); err != nil {
		return err
	}

	bld := b.nextBuilder("order-fill", now)

	if p.Flags.Has(FlagOpenPosition) {
		openRes, err := b.pool.OpenOrIncrease(bld, p.SubAccount, p.CollateralDelta, p.SizeDelta, fillPrice, prices, now)
		if err != nil {
			return err
		}
		o.Active = false
		if err := b.apply(bld); err != nil {
			return err
		}
		res.Open = &openRes
		res.FeePaid = openRes.FeePaid

		if p.Flags.Has(FlagTpSlStrategy) {
			res.TpSlOrders = b.synthesizeTpSl(o, now)
		}
		return nil
	}

	var closeRes pool.CloseResult
	var err error
	if p.Flags.Has(FlagAutoDeleverage) {
		closeRes, err = b.pool.FillAdlOrder(bld, p.SubAccount, p.SizeDelta, fillPrice, prices, p.ProfitAssetID, now)
	} else {
		closeRes, err = b.pool.CloseOrDecrease(bld, p.SubAccount, p.SizeDelta, fillPrice, prices, p.ProfitAssetID,
			p.Flags.Has(FlagShouldReachMinProfit), p.Flags.Has(FlagWithdrawAllIfEmpty), now)
	}
	if err != nil {
		return err
	}
	o.Active = false
	if err := b.apply(bld); err != nil {
		return err
	}
	res.Close = &closeRes
	res.FeePaid = closeRes.FeePaid
	return nil
}

// synthesizeTpSl places the take-profit and stop-loss close orders derived
// from a filled tp/sl-strategy open order. They share the subaccount, carry
// the auto-withdraw flag, and the take-profit leg alone requires minimum
// profit.
func (b *Book) synthesizeTpSl(o *Order, now int64) []uint64 {
	src := o.Position
	ids := make([]uint64, 0, 2)

	if src.TpPrice.Sign() > 0 {
		tp := &PositionOrderPayload{
			SubAccount:    src.SubAccount,
			SizeDelta:     src.SizeDelta,
			Price:         src.TpPrice,
			Deadline:      src.TpSlDeadline,
			ProfitAssetID: src.TpSlProfitAssetID,
			Flags:         FlagWithdrawAllIfEmpty | FlagShouldReachMinProfit,
		}
		ids = append(ids, b.store(&Order{Kind: KindPosition, Owner: o.Owner, PlacedAt: now, Position: tp}))
	}
	if src.SlPrice.Sign() > 0 {
		sl := &PositionOrderPayload{
			SubAccount:    src.SubAccount,
			SizeDelta:     src.SizeDelta,
			Price:         src.SlPrice,
			Deadline:      src.TpSlDeadline,
			ProfitAssetID: src.TpSlProfitAssetID,
			Flags:         FlagTriggerOrder | FlagWithdrawAllIfEmpty,
		}
		ids = append(ids, b.store(&Order{Kind: KindPosition, Owner: o.Owner, PlacedAt: now, Position: sl}))
	}
	return ids
}

func (b *Book) fillLiquidity(o *Order, prices state.Prices, now int64, res *FillResult) error {
	p := o.Liquidity
	if now < o.PlacedAt+b.cfg.Seconds(config.KeyLiquidityLockPeriod) {
		return ErrLocked
	}

	bld := b.nextBuilder("order-fill", now)
	if p.IsAdding {
		shares, feePaid, err := b.pool.AddLiquidity(bld, o.Owner, p.AssetID, p.Amount, prices.Asset)
		if err != nil {
			return err
		}
		res.Shares = shares
		res.FeePaid = feePaid
	} else {
		payout, feePaid, err := b.pool.RemoveLiquidity(bld, o.Owner, p.AssetID, p.Amount, prices.Asset)
		if err != nil {
			return err
		}
		res.Payout = payout
		res.FeePaid = feePaid
	}
	o.Active = false
	return b.apply(bld)
}

func (b *Book) fillWithdrawal(o *Order, prices state.Prices, now int64, res *FillResult) error {
	p := o.Withdrawal

	bld := b.nextBuilder("order-fill", now)
	payout, err := b.pool.WithdrawCollateral(bld, p.SubAccount, p.Amount, prices, p.ProfitAssetID, p.IsProfit)
	if err != nil {
		return err
	}
	o.Active = false
	if err := b.apply(bld); err != nil {
		return err
	}
	res.Payout = payout
	return nil
}
