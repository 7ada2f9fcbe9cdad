// internal/ledger/validator.go
package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants after each applied batch.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for assetID, total := range v.tracker.ComputeGlobalBalance() {
		if !total.IsZero() {
			return fmt.Errorf("global balance for asset %d is non-zero: %s", assetID, total)
		}
	}
	return nil
}

// ValidateUserNonNegative checks a trader's wallet and escrow are >= 0.
func (v *InvariantValidator) ValidateUserNonNegative(owner uuid.UUID, assetID uint8) error {
	if err := v.tracker.ValidateNonNegative(UserAccount(owner, SubTypeWallet, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(UserAccount(owner, SubTypeOrderEscrow, assetID))
}

// ValidatePoolNonNegative checks the pool never owes an asset.
func (v *InvariantValidator) ValidatePoolNonNegative(assetID uint8) error {
	return v.tracker.ValidateNonNegative(SystemAccount(SubTypePoolLiquidity, assetID))
}
