// internal/ledger/balance_tracker.go
package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceTracker maintains in-memory account balances. External custody
// accounts run negative by construction; every other account must stay >= 0.
type BalanceTracker struct {
	balances map[AccountKey]decimal.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]decimal.Decimal),
	}
}

// ApplyJournal applies a single journal entry to balances.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(j.Amount)
}

// ApplyBatch validates and applies all journals in a batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// GetBalance returns the current balance for an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) decimal.Decimal {
	return bt.balances[key]
}

// WalletBalance returns a trader's free balance in an asset.
func (bt *BalanceTracker) WalletBalance(owner uuid.UUID, assetID uint8) decimal.Decimal {
	return bt.GetBalance(UserAccount(owner, SubTypeWallet, assetID))
}

// EscrowBalance returns a trader's order-locked balance in an asset.
func (bt *BalanceTracker) EscrowBalance(owner uuid.UUID, assetID uint8) decimal.Decimal {
	return bt.GetBalance(UserAccount(owner, SubTypeOrderEscrow, assetID))
}

// PoolLiquidity returns the pool's custody of an asset.
func (bt *BalanceTracker) PoolLiquidity(assetID uint8) decimal.Decimal {
	return bt.GetBalance(SystemAccount(SubTypePoolLiquidity, assetID))
}

// ValidateSufficient checks that an account holds at least required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required decimal.Decimal) error {
	have := bt.GetBalance(key)
	if have.LessThan(required) {
		return fmt.Errorf("insufficient balance in %s: have=%s, need=%s", key.Path(), have, required)
	}
	return nil
}

// ValidateNonNegative checks that an account balance is >= 0.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if bt.GetBalance(key).Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.Path(), bt.GetBalance(key))
	}
	return nil
}

// ComputeGlobalBalance sums all balances per asset; zero for a zero-sum
// ledger.
func (bt *BalanceTracker) ComputeGlobalBalance() map[uint8]decimal.Decimal {
	totals := make(map[uint8]decimal.Decimal)
	for key, balance := range bt.balances {
		totals[key.AssetID] = totals[key.AssetID].Add(balance)
	}
	return totals
}

// Snapshot returns a copy of all balances, used by state hashing.
func (bt *BalanceTracker) Snapshot() map[AccountKey]decimal.Decimal {
	snapshot := make(map[AccountKey]decimal.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SetBalance overwrites one account's balance. Snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance decimal.Decimal) {
	bt.balances[key] = balance
}
