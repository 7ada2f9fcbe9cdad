// internal/book/order.go
package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/state"
)

// OrderKind selects the payload an order carries.
type OrderKind uint8

const (
	KindPosition OrderKind = iota
	KindLiquidity
	KindWithdrawal
)

func (k OrderKind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindLiquidity:
		return "liquidity"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// PositionOrderFlags is the bitmask carried by position orders. The
// combinations are fixed; placement rejects anything else.
type PositionOrderFlags uint8

const (
	FlagOpenPosition         PositionOrderFlags = 0x80
	FlagMarketOrder          PositionOrderFlags = 0x40
	FlagWithdrawAllIfEmpty   PositionOrderFlags = 0x20
	FlagTriggerOrder         PositionOrderFlags = 0x10
	FlagTpSlStrategy         PositionOrderFlags = 0x08
	FlagShouldReachMinProfit PositionOrderFlags = 0x04
	FlagAutoDeleverage       PositionOrderFlags = 0x02
)

func (f PositionOrderFlags) Has(bit PositionOrderFlags) bool { return f&bit != 0 }

// PositionOrderPayload describes a queued open or close instruction.
type PositionOrderPayload struct {
	SubAccount        state.SubAccountID `json:"sub_account"`
	CollateralDelta   decimal.Decimal    `json:"collateral_delta"` // collateral asset units, open orders only
	SizeDelta         decimal.Decimal    `json:"size_delta"`
	Price             decimal.Decimal    `json:"price"` // limit or trigger price; unused on market orders
	TpPrice           decimal.Decimal    `json:"tp_price"`
	SlPrice           decimal.Decimal    `json:"sl_price"`
	Deadline          int64              `json:"deadline"` // absolute seconds; 0 on market orders
	TpSlDeadline      int64              `json:"tp_sl_deadline"`
	ProfitAssetID     uint8              `json:"profit_asset_id"`
	TpSlProfitAssetID uint8              `json:"tp_sl_profit_asset_id"`
	Flags             PositionOrderFlags `json:"flags"`
}

// LiquidityOrderPayload describes a queued add/remove liquidity instruction.
// Amount is raw asset units when adding, pool shares when removing.
type LiquidityOrderPayload struct {
	AssetID  uint8           `json:"asset_id"`
	Amount   decimal.Decimal `json:"amount"`
	IsAdding bool            `json:"is_adding"`
}

// WithdrawalOrderPayload describes a queued collateral withdrawal.
type WithdrawalOrderPayload struct {
	SubAccount    state.SubAccountID `json:"sub_account"`
	Amount        decimal.Decimal    `json:"amount"`
	ProfitAssetID uint8              `json:"profit_asset_id"`
	IsProfit      bool               `json:"is_profit"`
}

// Order is one queued instruction. Orders are append-only by id; cancel and
// fill flip Active to false and are the only mutations.
type Order struct {
	ID       uint64    `json:"id"`
	Kind     OrderKind `json:"kind"`
	Owner    uuid.UUID `json:"owner"`
	PlacedAt int64     `json:"placed_at"`
	Active   bool      `json:"active"`

	Position   *PositionOrderPayload   `json:"position,omitempty"`
	Liquidity  *LiquidityOrderPayload  `json:"liquidity,omitempty"`
	Withdrawal *WithdrawalOrderPayload `json:"withdrawal,omitempty"`
}

// isBuy reports whether the fill moves value long: opening a long or closing
// a short buys the underlying.
func (p *PositionOrderPayload) isBuy() bool {
	isOpen := p.Flags.Has(FlagOpenPosition)
	if p.SubAccount.IsLong {
		return isOpen
	}
	return !isOpen
}
