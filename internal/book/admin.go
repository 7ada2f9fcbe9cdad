// internal/book/admin.go
package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/pool"
	"DegenVenue/internal/state"
)

// Liquidate force-closes an unsafe position at the broker's trading price.
// Broker-only; no queued order is involved.
func (b *Book) Liquidate(broker uuid.UUID, id state.SubAccountID, profitAssetID uint8, fillPrice decimal.Decimal, prices state.Prices, now int64) (pool.LiquidationResult, error) {
	if !b.IsBroker(broker) {
		return pool.LiquidationResult{}, ErrUnauthorized
	}
	if fillPrice.Sign() <= 0 {
		return pool.LiquidationResult{}, ErrInvalidPrice
	}
	if err := prices.Validate(); err != nil {
		return pool.LiquidationResult{}, err
	}
	bld := b.nextBuilder("liquidate", now)
	res, err := b.pool.Liquidate(bld, id, profitAssetID, fillPrice, prices)
	if err != nil {
		return pool.LiquidationResult{}, err
	}
	return res, b.apply(bld)
}

// ForceAdl auto-deleverages a position that has reached the trigger rate.
// Broker-only; no queued order is involved.
func (b *Book) ForceAdl(broker uuid.UUID, id state.SubAccountID, sizeDelta decimal.Decimal, profitAssetID uint8, fillPrice decimal.Decimal, prices state.Prices, now int64) (pool.CloseResult, error) {
	if !b.IsBroker(broker) {
		return pool.CloseResult{}, ErrUnauthorized
	}
	if fillPrice.Sign() <= 0 {
		return pool.CloseResult{}, ErrInvalidPrice
	}
	if err := prices.Validate(); err != nil {
		return pool.CloseResult{}, err
	}
	bld := b.nextBuilder("force-adl", now)
	res, err := b.pool.FillAdlOrder(bld, id, sizeDelta, fillPrice, prices, profitAssetID, now)
	if err != nil {
		return pool.CloseResult{}, err
	}
	return res, b.apply(bld)
}

// DepositCollateral moves wallet funds into a subaccount's collateral.
func (b *Book) DepositCollateral(caller uuid.UUID, id state.SubAccountID, amount decimal.Decimal, now int64) error {
	if caller != id.Owner {
		return ErrUnauthorized
	}
	bld := b.nextBuilder("deposit-collateral", now)
	if err := b.pool.DepositCollateral(bld, id, amount); err != nil {
		return err
	}
	return b.apply(bld)
}

// WithdrawAllCollateral empties a flat subaccount back into the wallet.
func (b *Book) WithdrawAllCollateral(caller uuid.UUID, id state.SubAccountID, now int64) (decimal.Decimal, error) {
	if caller != id.Owner {
		return decimal.Zero, ErrUnauthorized
	}
	bld := b.nextBuilder("withdraw-collateral", now)
	amount, err := b.pool.WithdrawAllCollateral(bld, id)
	if err != nil {
		return decimal.Zero, err
	}
	return amount, b.apply(bld)
}
