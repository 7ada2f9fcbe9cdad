// internal/state/asset.go
package state

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	fpmath "DegenVenue/internal/math"
)

// AssetFlag is a bitmask of per-asset capabilities.
type AssetFlag uint16

const (
	AssetTradable AssetFlag = 1 << iota
	AssetOpenable
	AssetShortable
	AssetEnabled
	AssetStable
	AssetStrictStable
	AssetCanAddRemoveLiquidity
)

// Asset holds one registered asset: externally-owned configuration plus the
// running aggregates the venue itself maintains.
type Asset struct {
	ID       uint8     `json:"id"`
	Symbol   string    `json:"symbol"`
	Decimals uint8     `json:"decimals"`
	Flags    AssetFlag `json:"flags"`

	// Configuration, externally owned.
	LotSize               decimal.Decimal `json:"lot_size"`
	InitialMarginRate     decimal.Decimal `json:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenance_margin_rate"`
	MinProfitRate         decimal.Decimal `json:"min_profit_rate"`
	MinProfitTime         int64           `json:"min_profit_time"` // seconds
	PositionFeeRate       decimal.Decimal `json:"position_fee_rate"`
	LiquidationFeeRate    decimal.Decimal `json:"liquidation_fee_rate"`
	MaxLongPositionSize   decimal.Decimal `json:"max_long_position_size"`
	MaxShortPositionSize  decimal.Decimal `json:"max_short_position_size"`
	FundingAlpha          decimal.Decimal `json:"funding_alpha"`
	FundingBetaAPY        decimal.Decimal `json:"funding_beta_apy"`
	AdlReserveRate        decimal.Decimal `json:"adl_reserve_rate"`
	AdlMaxPnlRate         decimal.Decimal `json:"adl_max_pnl_rate"`
	AdlTriggerRate        decimal.Decimal `json:"adl_trigger_rate"`
	ReferenceDeviation    decimal.Decimal `json:"reference_deviation"`
	UseReferenceOracle    bool            `json:"use_reference_oracle"`

	// Running aggregates, owned by the venue. Funding indices only grow.
	SpotLiquidity          decimal.Decimal `json:"spot_liquidity"`
	TotalLongSize          decimal.Decimal `json:"total_long_size"`
	AvgLongPrice           decimal.Decimal `json:"avg_long_price"`
	TotalShortSize         decimal.Decimal `json:"total_short_size"`
	AvgShortPrice          decimal.Decimal `json:"avg_short_price"`
	LongCumulativeFunding  decimal.Decimal `json:"long_cumulative_funding"`
	ShortCumulativeFunding decimal.Decimal `json:"short_cumulative_funding"`
	LastFundingTime        int64           `json:"last_funding_time"`
	LastMarkPrice          decimal.Decimal `json:"last_mark_price"`
}

// MarkPrice returns the last observed price, defaulting stables to 1.0 before
// any report arrives.
func (a *Asset) MarkPrice() decimal.Decimal {
	if a.LastMarkPrice.Sign() > 0 {
		return a.LastMarkPrice
	}
	if a.IsStable() {
		return fpmath.One
	}
	return decimal.Zero
}

func (a *Asset) Has(f AssetFlag) bool { return a.Flags&f != 0 }

func (a *Asset) IsTradable() bool     { return a.Has(AssetTradable) }
func (a *Asset) IsOpenable() bool     { return a.Has(AssetOpenable) }
func (a *Asset) IsShortable() bool    { return a.Has(AssetShortable) }
func (a *Asset) IsEnabled() bool      { return a.Has(AssetEnabled) }
func (a *Asset) IsStable() bool       { return a.Has(AssetStable) }
func (a *Asset) IsStrictStable() bool { return a.Has(AssetStrictStable) }
func (a *Asset) HasLiquidity() bool   { return a.Has(AssetCanAddRemoveLiquidity) }

// CumulativeFunding returns the funding index for a direction.
func (a *Asset) CumulativeFunding(isLong bool) decimal.Decimal {
	if isLong {
		return a.LongCumulativeFunding
	}
	return a.ShortCumulativeFunding
}

// TotalSize returns the aggregate open size for a direction.
func (a *Asset) TotalSize(isLong bool) decimal.Decimal {
	if isLong {
		return a.TotalLongSize
	}
	return a.TotalShortSize
}

// AvgEntry returns the aggregate average entry price for a direction.
func (a *Asset) AvgEntry(isLong bool) decimal.Decimal {
	if isLong {
		return a.AvgLongPrice
	}
	return a.AvgShortPrice
}

// IncreaseOpenInterest folds a fill of size at price into the per-direction
// aggregates.
func (a *Asset) IncreaseOpenInterest(isLong bool, size, price decimal.Decimal) {
	if isLong {
		a.AvgLongPrice = fpmath.AvgEntryPrice(a.TotalLongSize, a.AvgLongPrice, size, price)
		a.TotalLongSize = a.TotalLongSize.Add(size)
	} else {
		a.AvgShortPrice = fpmath.AvgEntryPrice(a.TotalShortSize, a.AvgShortPrice, size, price)
		a.TotalShortSize = a.TotalShortSize.Add(size)
	}
}

// DecreaseOpenInterest removes size from a direction's aggregate. The average
// entry price is left untouched on partial closes and zeroed when the side
// fully unwinds.
func (a *Asset) DecreaseOpenInterest(isLong bool, size decimal.Decimal) {
	if isLong {
		a.TotalLongSize = fpmath.ClampFloor(a.TotalLongSize.Sub(size), decimal.Zero)
		if a.TotalLongSize.IsZero() {
			a.AvgLongPrice = decimal.Zero
		}
	} else {
		a.TotalShortSize = fpmath.ClampFloor(a.TotalShortSize.Sub(size), decimal.Zero)
		if a.TotalShortSize.IsZero() {
			a.AvgShortPrice = decimal.Zero
		}
	}
}

// Registry holds all registered assets keyed by id.
type Registry struct {
	assets map[uint8]*Asset
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[uint8]*Asset)}
}

// Add registers an asset. Ids are assigned by governance and never reused.
func (r *Registry) Add(a *Asset) error {
	if _, exists := r.assets[a.ID]; exists {
		return fmt.Errorf("asset %d already registered", a.ID)
	}
	r.assets[a.ID] = a
	return nil
}

// Get returns the asset for id.
func (r *Registry) Get(id uint8) (*Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return nil, fmt.Errorf("unknown asset %d", id)
	}
	return a, nil
}

// All returns assets ordered by id, for deterministic iteration.
func (r *Registry) All() []*Asset {
	out := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
