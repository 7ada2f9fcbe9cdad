// internal/query/types.go
package query

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is one owner's balance buckets for a single asset. Every
// response carries AsOfSequence so callers can reason about freshness.
type BalanceResponse struct {
	Owner   uuid.UUID `json:"owner"`
	AssetID int16     `json:"asset_id"`

	Wallet             decimal.Decimal `json:"wallet"`
	OrderEscrow        decimal.Decimal `json:"order_escrow"`
	PositionCollateral decimal.Decimal `json:"position_collateral"`
	Total              decimal.Decimal `json:"total"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PoolResponse is the venue-side liquidity view for a single asset.
type PoolResponse struct {
	AssetID           int16           `json:"asset_id"`
	PoolLiquidity     decimal.Decimal `json:"pool_liquidity"`
	ProtocolLiquidity decimal.Decimal `json:"protocol_liquidity"`
	RewardAccrual     decimal.Decimal `json:"reward_accrual"`
	FeeIncome         decimal.Decimal `json:"fee_income"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry is one double-entry transfer touching the queried owner.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID       `json:"journal_id"`
	BatchID       uuid.UUID       `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	AssetID       int16           `json:"asset_id"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Timestamp     int64           `json:"timestamp"`
}

// IntegrityReport is the result of the admin integrity check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose balances do not sum to zero across every
// account, custody included.
type UnbalancedAsset struct {
	AssetID   int16           `json:"asset_id"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
