// internal/ledger/journal.go
package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalType is the purpose of a journal entry.
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeOrderEscrow
	JournalTypeOrderRefund
	JournalTypeLiquidityAdd
	JournalTypeLiquidityRemove
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypePositionFee
	JournalTypeLiquidityFee
	JournalTypeLiquidationFee
	JournalTypeFundingFee
	JournalTypeTradeProfit
	JournalTypeTradeLoss
	JournalTypeCollateralReturn
	JournalTypeFeeSplitPool
	JournalTypeFeeSplitProtocol
	JournalTypeFeeSplitReward
	JournalTypeReferralDiscount
	JournalTypeReferralRebate
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeOrderEscrow:
		return "order_escrow"
	case JournalTypeOrderRefund:
		return "order_refund"
	case JournalTypeLiquidityAdd:
		return "liquidity_add"
	case JournalTypeLiquidityRemove:
		return "liquidity_remove"
	case JournalTypeShareMint:
		return "share_mint"
	case JournalTypeShareBurn:
		return "share_burn"
	case JournalTypePositionFee:
		return "position_fee"
	case JournalTypeLiquidityFee:
		return "liquidity_fee"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeFundingFee:
		return "funding_fee"
	case JournalTypeTradeProfit:
		return "trade_profit"
	case JournalTypeTradeLoss:
		return "trade_loss"
	case JournalTypeCollateralReturn:
		return "collateral_return"
	case JournalTypeFeeSplitPool:
		return "fee_split_pool"
	case JournalTypeFeeSplitProtocol:
		return "fee_split_protocol"
	case JournalTypeFeeSplitReward:
		return "fee_split_reward"
	case JournalTypeReferralDiscount:
		return "referral_discount"
	case JournalTypeReferralRebate:
		return "referral_rebate"
	}
	return fmt.Sprintf("journal_type_%d", int32(jt))
}

// Journal is a single double-entry transfer: Amount moves from the credit
// account to the debit account. Amount is always positive.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey
	CreditAccount AccountKey
	AssetID       uint8
	Amount        decimal.Decimal
	JournalType   JournalType
	Timestamp     int64
}

// Batch groups the journal entries of one venue operation. Each entry is a
// balanced transfer by construction, so the batch is zero-sum per asset.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	for _, j := range b.Journals {
		if j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}
	return nil
}

// Builder accumulates the transfers of one operation into a batch. Callers
// stage transfers while validating and apply the batch only once every check
// has passed.
type Builder struct {
	batch *Batch
}

func NewBuilder(eventRef string, sequence, timestamp int64) *Builder {
	return &Builder{batch: &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}}
}

// Transfer stages one movement. Zero amounts are dropped; negative amounts
// are a programmer error surfaced by Batch.Validate.
func (bld *Builder) Transfer(jt JournalType, from, to AccountKey, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	bld.batch.Journals = append(bld.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       bld.batch.BatchID,
		EventRef:      bld.batch.EventRef,
		Sequence:      bld.batch.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       to.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     bld.batch.Timestamp,
	})
}

// Batch returns the staged batch.
func (bld *Builder) Batch() *Batch {
	return bld.batch
}

// Empty reports whether nothing was staged.
func (bld *Builder) Empty() bool {
	return len(bld.batch.Journals) == 0
}
