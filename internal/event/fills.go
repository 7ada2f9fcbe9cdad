// internal/event/fills.go
package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/state"
)

// FillOrder executes a queued order at the broker's trading price, with the
// reported price vector backing margin and funding math. Idempotency key:
// command_id, so a retried fill of the same order under a fresh id still
// fails on the consumed order rather than double-settling.
type FillOrder struct {
	CommandID uuid.UUID       `json:"command_id"`
	Broker    uuid.UUID       `json:"broker"`
	OrderID   uint64          `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Prices    state.Prices    `json:"prices"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

func (c *FillOrder) IdempotencyKey() string   { return c.CommandID.String() }
func (c *FillOrder) CommandType() CommandType { return CommandTypeFillOrder }
func (c *FillOrder) Partition() string        { return PartitionOrders }
func (c *FillOrder) SourceSequence() int64    { return c.Sequence }
func (c *FillOrder) EventTime() int64         { return c.Timestamp }

// Liquidate force-closes an unsafe position, no queued order involved.
type Liquidate struct {
	CommandID     uuid.UUID          `json:"command_id"`
	Broker        uuid.UUID          `json:"broker"`
	SubAccount    state.SubAccountID `json:"sub_account"`
	ProfitAssetID uint8              `json:"profit_asset_id"`
	Price         decimal.Decimal    `json:"price"`
	Prices        state.Prices       `json:"prices"`
	Sequence      int64              `json:"sequence"`
	Timestamp     int64              `json:"timestamp"`
}

func (c *Liquidate) IdempotencyKey() string   { return c.CommandID.String() }
func (c *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }
func (c *Liquidate) Partition() string        { return PartitionOrders }
func (c *Liquidate) SourceSequence() int64    { return c.Sequence }
func (c *Liquidate) EventTime() int64         { return c.Timestamp }

// ForceAdl auto-deleverages a position whose unrealized return has reached
// the trigger rate, without a queued order.
type ForceAdl struct {
	CommandID     uuid.UUID          `json:"command_id"`
	Broker        uuid.UUID          `json:"broker"`
	SubAccount    state.SubAccountID `json:"sub_account"`
	SizeDelta     decimal.Decimal    `json:"size_delta"`
	ProfitAssetID uint8              `json:"profit_asset_id"`
	Price         decimal.Decimal    `json:"price"`
	Prices        state.Prices       `json:"prices"`
	Sequence      int64              `json:"sequence"`
	Timestamp     int64              `json:"timestamp"`
}

func (c *ForceAdl) IdempotencyKey() string   { return c.CommandID.String() }
func (c *ForceAdl) CommandType() CommandType { return CommandTypeForceAdl }
func (c *ForceAdl) Partition() string        { return PartitionOrders }
func (c *ForceAdl) SourceSequence() int64    { return c.Sequence }
func (c *ForceAdl) EventTime() int64         { return c.Timestamp }
