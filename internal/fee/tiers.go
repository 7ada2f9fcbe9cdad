// internal/fee/tiers.go
package fee

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StaticTiers is the in-memory ReferralSource: governance binds payers to
// referrers and assigns tier rates.
type StaticTiers struct {
	tiers    map[uint8]Tier
	bindings map[uuid.UUID]binding
}

type binding struct {
	tierID   uint8
	referrer uuid.UUID
}

func NewStaticTiers() *StaticTiers {
	return &StaticTiers{
		tiers:    make(map[uint8]Tier),
		bindings: make(map[uuid.UUID]binding),
	}
}

// SetTier registers or replaces a tier definition.
func (s *StaticTiers) SetTier(id uint8, discountRate, rebateRate decimal.Decimal) {
	s.tiers[id] = Tier{ID: id, DiscountRate: discountRate, RebateRate: rebateRate}
}

// Bind links a payer to a referrer under a tier.
func (s *StaticTiers) Bind(payer, referrer uuid.UUID, tierID uint8) {
	s.bindings[payer] = binding{tierID: tierID, referrer: referrer}
}

// Unbind removes a payer's referral relationship.
func (s *StaticTiers) Unbind(payer uuid.UUID) {
	delete(s.bindings, payer)
}

func (s *StaticTiers) Lookup(payer uuid.UUID) (Tier, uuid.UUID, bool) {
	b, ok := s.bindings[payer]
	if !ok {
		return Tier{}, uuid.Nil, false
	}
	tier, ok := s.tiers[b.tierID]
	if !ok {
		return Tier{}, uuid.Nil, false
	}
	return tier, b.referrer, true
}
