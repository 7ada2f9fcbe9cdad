// internal/event/transfers.go
package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/state"
)

// Deposit credits external funds into a user's wallet.
// Idempotency key: transfer_id from the custody bridge.
type Deposit struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	Owner      uuid.UUID       `json:"owner"`
	AssetID    uint8           `json:"asset_id"`
	Amount     decimal.Decimal `json:"amount"`
	Sequence   int64           `json:"sequence"`
	Timestamp  int64           `json:"timestamp"`
}

func (c *Deposit) IdempotencyKey() string   { return c.TransferID.String() }
func (c *Deposit) CommandType() CommandType { return CommandTypeDeposit }
func (c *Deposit) Partition() string        { return PartitionTransfers }
func (c *Deposit) SourceSequence() int64    { return c.Sequence }
func (c *Deposit) EventTime() int64         { return c.Timestamp }

// Withdraw moves wallet funds back to external custody.
type Withdraw struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	Owner      uuid.UUID       `json:"owner"`
	AssetID    uint8           `json:"asset_id"`
	Amount     decimal.Decimal `json:"amount"`
	Sequence   int64           `json:"sequence"`
	Timestamp  int64           `json:"timestamp"`
}

func (c *Withdraw) IdempotencyKey() string   { return c.TransferID.String() }
func (c *Withdraw) CommandType() CommandType { return CommandTypeWithdraw }
func (c *Withdraw) Partition() string        { return PartitionTransfers }
func (c *Withdraw) SourceSequence() int64    { return c.Sequence }
func (c *Withdraw) EventTime() int64         { return c.Timestamp }

// DepositCollateral moves wallet funds straight into position collateral.
type DepositCollateral struct {
	CommandID  uuid.UUID          `json:"command_id"`
	Caller     uuid.UUID          `json:"caller"`
	SubAccount state.SubAccountID `json:"sub_account"`
	Amount     decimal.Decimal    `json:"amount"`
	Sequence   int64              `json:"sequence"`
	Timestamp  int64              `json:"timestamp"`
}

func (c *DepositCollateral) IdempotencyKey() string   { return c.CommandID.String() }
func (c *DepositCollateral) CommandType() CommandType { return CommandTypeDepositCollateral }
func (c *DepositCollateral) Partition() string        { return PartitionTransfers }
func (c *DepositCollateral) SourceSequence() int64    { return c.Sequence }
func (c *DepositCollateral) EventTime() int64         { return c.Timestamp }

// WithdrawAllCollateral empties a flat subaccount back into the wallet.
type WithdrawAllCollateral struct {
	CommandID  uuid.UUID          `json:"command_id"`
	Caller     uuid.UUID          `json:"caller"`
	SubAccount state.SubAccountID `json:"sub_account"`
	Sequence   int64              `json:"sequence"`
	Timestamp  int64              `json:"timestamp"`
}

func (c *WithdrawAllCollateral) IdempotencyKey() string   { return c.CommandID.String() }
func (c *WithdrawAllCollateral) CommandType() CommandType { return CommandTypeWithdrawAllCollateral }
func (c *WithdrawAllCollateral) Partition() string        { return PartitionTransfers }
func (c *WithdrawAllCollateral) SourceSequence() int64    { return c.Sequence }
func (c *WithdrawAllCollateral) EventTime() int64         { return c.Timestamp }
