// internal/event/orders.go
package event

import (
	"github.com/google/uuid"

	"DegenVenue/internal/book"
)

// PlacePositionOrder queues an open or close instruction.
// Idempotency key: command_id (UUID from the gateway).
type PlacePositionOrder struct {
	CommandID uuid.UUID                 `json:"command_id"`
	Caller    uuid.UUID                 `json:"caller"`
	Payload   book.PositionOrderPayload `json:"payload"`
	Sequence  int64                     `json:"sequence"`
	Timestamp int64                     `json:"timestamp"`
}

func (c *PlacePositionOrder) IdempotencyKey() string   { return c.CommandID.String() }
func (c *PlacePositionOrder) CommandType() CommandType { return CommandTypePlacePositionOrder }
func (c *PlacePositionOrder) Partition() string        { return PartitionOrders }
func (c *PlacePositionOrder) SourceSequence() int64    { return c.Sequence }
func (c *PlacePositionOrder) EventTime() int64         { return c.Timestamp }

type PlaceLiquidityOrder struct {
	CommandID uuid.UUID                  `json:"command_id"`
	Caller    uuid.UUID                  `json:"caller"`
	Payload   book.LiquidityOrderPayload `json:"payload"`
	Sequence  int64                      `json:"sequence"`
	Timestamp int64                      `json:"timestamp"`
}

func (c *PlaceLiquidityOrder) IdempotencyKey() string   { return c.CommandID.String() }
func (c *PlaceLiquidityOrder) CommandType() CommandType { return CommandTypePlaceLiquidityOrder }
func (c *PlaceLiquidityOrder) Partition() string        { return PartitionOrders }
func (c *PlaceLiquidityOrder) SourceSequence() int64    { return c.Sequence }
func (c *PlaceLiquidityOrder) EventTime() int64         { return c.Timestamp }

type PlaceWithdrawalOrder struct {
	CommandID uuid.UUID                   `json:"command_id"`
	Caller    uuid.UUID                   `json:"caller"`
	Payload   book.WithdrawalOrderPayload `json:"payload"`
	Sequence  int64                       `json:"sequence"`
	Timestamp int64                       `json:"timestamp"`
}

func (c *PlaceWithdrawalOrder) IdempotencyKey() string   { return c.CommandID.String() }
func (c *PlaceWithdrawalOrder) CommandType() CommandType { return CommandTypePlaceWithdrawalOrder }
func (c *PlaceWithdrawalOrder) Partition() string        { return PartitionOrders }
func (c *PlaceWithdrawalOrder) SourceSequence() int64    { return c.Sequence }
func (c *PlaceWithdrawalOrder) EventTime() int64         { return c.Timestamp }

// CancelOrder deactivates a queued order. The caller is either the owner or
// a broker; the book enforces which of the two gates applies.
type CancelOrder struct {
	CommandID uuid.UUID `json:"command_id"`
	Caller    uuid.UUID `json:"caller"`
	OrderID   uint64    `json:"order_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *CancelOrder) IdempotencyKey() string   { return c.CommandID.String() }
func (c *CancelOrder) CommandType() CommandType { return CommandTypeCancelOrder }
func (c *CancelOrder) Partition() string        { return PartitionOrders }
func (c *CancelOrder) SourceSequence() int64    { return c.Sequence }
func (c *CancelOrder) EventTime() int64         { return c.Timestamp }
