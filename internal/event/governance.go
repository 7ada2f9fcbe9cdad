// internal/event/governance.go
package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpdateFunding advances an asset's funding and borrowing indices to the
// command timestamp. Gap-tolerant: a skipped tick is caught up by the next
// one, so its sequence runs on a per-asset partition.
type UpdateFunding struct {
	CommandID uuid.UUID `json:"command_id"`
	AssetID   uint8     `json:"asset_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *UpdateFunding) IdempotencyKey() string   { return c.CommandID.String() }
func (c *UpdateFunding) CommandType() CommandType { return CommandTypeUpdateFunding }
func (c *UpdateFunding) Partition() string        { return fmt.Sprintf("funding:%d", c.AssetID) }
func (c *UpdateFunding) SourceSequence() int64    { return c.Sequence }
func (c *UpdateFunding) EventTime() int64         { return c.Timestamp }

// SetConfig writes one venue configuration value. The key is the
// human-readable name; the engine hashes it into the config store's key.
type SetConfig struct {
	CommandID uuid.UUID       `json:"command_id"`
	Name      string          `json:"name"`
	Value     decimal.Decimal `json:"value"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

func (c *SetConfig) IdempotencyKey() string   { return c.CommandID.String() }
func (c *SetConfig) CommandType() CommandType { return CommandTypeSetConfig }
func (c *SetConfig) Partition() string        { return PartitionAdmin }
func (c *SetConfig) SourceSequence() int64    { return c.Sequence }
func (c *SetConfig) EventTime() int64         { return c.Timestamp }

// AssetParams carries the per-asset risk parameters a SetAsset command
// installs or updates.
type AssetParams struct {
	Symbol                string          `json:"symbol"`
	Decimals              uint8           `json:"decimals"`
	Flags                 uint32          `json:"flags"`
	LotSize               decimal.Decimal `json:"lot_size"`
	InitialMarginRate     decimal.Decimal `json:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenance_margin_rate"`
	PositionFeeRate       decimal.Decimal `json:"position_fee_rate"`
	LiquidationFeeRate    decimal.Decimal `json:"liquidation_fee_rate"`
	MinProfitRate         decimal.Decimal `json:"min_profit_rate"`
	MinProfitTime         int64           `json:"min_profit_time"`
	MaxLongPositionSize   decimal.Decimal `json:"max_long_position_size"`
	MaxShortPositionSize  decimal.Decimal `json:"max_short_position_size"`
	FundingAlpha          decimal.Decimal `json:"funding_alpha"`
	FundingBetaAPY        decimal.Decimal `json:"funding_beta_apy"`
	AdlReserveRate        decimal.Decimal `json:"adl_reserve_rate"`
	AdlMaxPnlRate         decimal.Decimal `json:"adl_max_pnl_rate"`
	AdlTriggerRate        decimal.Decimal `json:"adl_trigger_rate"`
	ReferenceDeviation    decimal.Decimal `json:"reference_deviation"`
	UseReferenceOracle    bool            `json:"use_reference_oracle"`
}

// SetAsset installs a new asset or updates an existing one's parameters.
type SetAsset struct {
	CommandID uuid.UUID   `json:"command_id"`
	AssetID   uint8       `json:"asset_id"`
	Params    AssetParams `json:"params"`
	Sequence  int64       `json:"sequence"`
	Timestamp int64       `json:"timestamp"`
}

func (c *SetAsset) IdempotencyKey() string   { return c.CommandID.String() }
func (c *SetAsset) CommandType() CommandType { return CommandTypeSetAsset }
func (c *SetAsset) Partition() string        { return PartitionAdmin }
func (c *SetAsset) SourceSequence() int64    { return c.Sequence }
func (c *SetAsset) EventTime() int64         { return c.Timestamp }

// SetBroker grants or revokes the privileged filler role.
type SetBroker struct {
	CommandID uuid.UUID `json:"command_id"`
	Broker    uuid.UUID `json:"broker"`
	Enable    bool      `json:"enable"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *SetBroker) IdempotencyKey() string   { return c.CommandID.String() }
func (c *SetBroker) CommandType() CommandType { return CommandTypeSetBroker }
func (c *SetBroker) Partition() string        { return PartitionAdmin }
func (c *SetBroker) SourceSequence() int64    { return c.Sequence }
func (c *SetBroker) EventTime() int64         { return c.Timestamp }
