// internal/state/prices.go
package state

import (
	"fmt"

	"github.com/shopspring/decimal"

	fpmath "DegenVenue/internal/math"
)

// Prices is the broker-reported price vector consumed by every fill,
// liquidation, and funding update: collateral asset, underlying asset, and
// profit asset, each an 18-decimal value.
type Prices struct {
	Collateral decimal.Decimal `json:"collateral"`
	Asset      decimal.Decimal `json:"asset"`
	Profit     decimal.Decimal `json:"profit"`
}

// Validate enforces the numeric bounds the venue owns. Staleness and
// authenticity are the broker's problem.
func (p Prices) Validate() error {
	if p.Collateral.Sign() <= 0 {
		return fmt.Errorf("collateral price must be positive, got %s", p.Collateral)
	}
	if p.Asset.Sign() <= 0 {
		return fmt.Errorf("asset price must be positive, got %s", p.Asset)
	}
	if p.Profit.Sign() <= 0 {
		return fmt.Errorf("profit price must be positive, got %s", p.Profit)
	}
	return nil
}

// ReferenceOracle supplies reference prices for strict-stable assets.
type ReferenceOracle interface {
	ReferencePrice(assetID uint8) (decimal.Decimal, bool)
}

// StaticOracle is a fixed-price oracle used by governance bootstrap and tests.
type StaticOracle struct {
	prices map[uint8]decimal.Decimal
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[uint8]decimal.Decimal)}
}

func (o *StaticOracle) Set(assetID uint8, price decimal.Decimal) {
	o.prices[assetID] = price
}

func (o *StaticOracle) ReferencePrice(assetID uint8) (decimal.Decimal, bool) {
	p, ok := o.prices[assetID]
	return p, ok
}

// EffectivePrice applies the strict-stable dampener: when the asset is flagged
// strict stable and the reference oracle's deviation from 1.0 sits inside the
// configured band, the price pins to exactly 1.0. Otherwise the broker price
// stands.
func EffectivePrice(a *Asset, brokerPrice decimal.Decimal, oracle ReferenceOracle, deviation decimal.Decimal) decimal.Decimal {
	if !a.IsStrictStable() || oracle == nil {
		return brokerPrice
	}
	ref, ok := oracle.ReferencePrice(a.ID)
	if !ok {
		return brokerPrice
	}
	band := deviation
	if a.UseReferenceOracle && a.ReferenceDeviation.Sign() > 0 {
		band = a.ReferenceDeviation
	}
	if ref.Sub(fpmath.One).Abs().LessThanOrEqual(band) {
		return fpmath.One
	}
	return brokerPrice
}
