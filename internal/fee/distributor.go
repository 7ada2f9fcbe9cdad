// internal/fee/distributor.go
package fee

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
)

// ReferralSource resolves a payer into a referral tier. Externally owned;
// returns ok=false when the payer has no referral relationship.
type ReferralSource interface {
	Lookup(payer uuid.UUID) (Tier, uuid.UUID, bool)
}

// Tier holds the discount and rebate rates of one referral tier.
type Tier struct {
	ID           uint8
	DiscountRate decimal.Decimal // returned to the fee payer
	RebateRate   decimal.Decimal // paid to the referrer
}

// Shares configures the three-way split of the undiscounted remainder.
// Shares must sum to 1.
type Shares struct {
	Pool     decimal.Decimal
	Protocol decimal.Decimal
	Reward   decimal.Decimal
}

// DefaultShares is the 70/15/15 pool/protocol/reward split.
func DefaultShares() Shares {
	return Shares{
		Pool:     fpmath.Wad("0.70"),
		Protocol: fpmath.Wad("0.15"),
		Reward:   fpmath.Wad("0.15"),
	}
}

func (s Shares) validate() error {
	if !s.Pool.Add(s.Protocol).Add(s.Reward).Equal(fpmath.One) {
		return fmt.Errorf("fee shares must sum to 1")
	}
	return nil
}

// Distributor splits fee amounts among the pool, the protocol-owned-liquidity
// vault, the long-term reward accrual, and referral participants. Splits sum
// exactly to the input fee; sub-wad residue rounds toward the pool.
type Distributor struct {
	shares    Shares
	referrals ReferralSource
	rewards   map[uint8]decimal.Decimal // per-asset claimable reward accrual
}

func NewDistributor(shares Shares, referrals ReferralSource) (*Distributor, error) {
	if err := shares.validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		shares:    shares,
		referrals: referrals,
		rewards:   make(map[uint8]decimal.Decimal),
	}, nil
}

// Distribute stages the split of feeAmount, moving it out of source into the
// fee-income, protocol-owned-liquidity, reward, and referral accounts.
// Returns the fee-income (pool) portion. The truncation residue of the split
// rounds toward the pool portion, so the legs always sum to feeAmount.
func (d *Distributor) Distribute(bld *ledger.Builder, payer uuid.UUID, source ledger.AccountKey, feeAmount decimal.Decimal, assetID uint8) decimal.Decimal {
	if feeAmount.Sign() <= 0 {
		return decimal.Zero
	}

	remainder := feeAmount

	if d.referrals != nil {
		if tier, referrer, ok := d.referrals.Lookup(payer); ok {
			discount := fpmath.WadMul(feeAmount, tier.DiscountRate)
			rebate := fpmath.WadMul(feeAmount, tier.RebateRate)
			bld.Transfer(ledger.JournalTypeReferralDiscount, source,
				ledger.UserAccount(payer, ledger.SubTypeWallet, assetID), discount)
			bld.Transfer(ledger.JournalTypeReferralRebate, source,
				ledger.UserAccount(referrer, ledger.SubTypeWallet, assetID), rebate)
			remainder = remainder.Sub(discount).Sub(rebate)
		}
	}

	protocol := fpmath.WadMul(remainder, d.shares.Protocol)
	reward := fpmath.WadMul(remainder, d.shares.Reward)
	poolPortion := remainder.Sub(protocol).Sub(reward)

	bld.Transfer(ledger.JournalTypeFeeSplitProtocol, source,
		ledger.SystemAccount(ledger.SubTypeProtocolLiquidity, assetID), protocol)
	bld.Transfer(ledger.JournalTypeFeeSplitReward, source,
		ledger.SystemAccount(ledger.SubTypeRewardAccrual, assetID), reward)
	bld.Transfer(ledger.JournalTypeFeeSplitPool, source,
		ledger.SystemAccount(ledger.SubTypeFeeIncome, assetID), poolPortion)

	d.rewards[assetID] = d.rewards[assetID].Add(reward)
	return poolPortion
}

// ClaimableReward returns the accumulated long-term reward accrual for an
// asset.
func (d *Distributor) ClaimableReward(assetID uint8) decimal.Decimal {
	return d.rewards[assetID]
}

// ClaimReward stages a payout of the full accrual to recipient and resets it.
func (d *Distributor) ClaimReward(bld *ledger.Builder, recipient uuid.UUID, assetID uint8) decimal.Decimal {
	amount := d.rewards[assetID]
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	bld.Transfer(ledger.JournalTypeFeeSplitReward,
		ledger.SystemAccount(ledger.SubTypeRewardAccrual, assetID),
		ledger.UserAccount(recipient, ledger.SubTypeWallet, assetID), amount)
	d.rewards[assetID] = decimal.Zero
	return amount
}
