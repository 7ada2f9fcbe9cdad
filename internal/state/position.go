// internal/state/position.go
package state

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Position is one subaccount's margin state. An empty position carries no
// residual fields; a closed-but-funded position keeps its collateral with
// entry price and entry funding zeroed.
type Position struct {
	Collateral      decimal.Decimal `json:"collateral"`
	Size            decimal.Decimal `json:"size"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryFunding    decimal.Decimal `json:"entry_funding"`
	LastIncreasedAt int64           `json:"last_increased_at"`
}

// IsEmpty reports whether the position holds neither size nor collateral.
func (p *Position) IsEmpty() bool {
	return p.Size.IsZero() && p.Collateral.IsZero()
}

// ClearEntry zeroes the entry fields once size reaches zero. Collateral is
// managed by the caller.
func (p *Position) ClearEntry() {
	p.Size = decimal.Zero
	p.EntryPrice = decimal.Zero
	p.EntryFunding = decimal.Zero
	p.LastIncreasedAt = 0
}

// Reset returns the position to the empty state.
func (p *Position) Reset() {
	p.Collateral = decimal.Zero
	p.ClearEntry()
}

// PositionStore owns every subaccount position. Positions are created
// implicitly on first touch and dropped when they return to empty.
type PositionStore struct {
	positions map[SubAccountID]*Position
}

func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[SubAccountID]*Position)}
}

// Get returns the position for id, or nil when none exists.
func (ps *PositionStore) Get(id SubAccountID) *Position {
	return ps.positions[id]
}

// GetOrCreate returns the position for id, creating an empty one on first use.
func (ps *PositionStore) GetOrCreate(id SubAccountID) *Position {
	p := ps.positions[id]
	if p == nil {
		p = &Position{
			Collateral:   decimal.Zero,
			Size:         decimal.Zero,
			EntryPrice:   decimal.Zero,
			EntryFunding: decimal.Zero,
		}
		ps.positions[id] = p
	}
	return p
}

// Prune drops the position when it has returned to empty.
func (ps *PositionStore) Prune(id SubAccountID) {
	if p, ok := ps.positions[id]; ok && p.IsEmpty() {
		delete(ps.positions, id)
	}
}

// Len returns the number of live positions.
func (ps *PositionStore) Len() int { return len(ps.positions) }

// PositionEntry pairs a subaccount id with its position for iteration.
type PositionEntry struct {
	ID  SubAccountID `json:"id"`
	Pos *Position    `json:"position"`
}

// All returns live positions in deterministic id order.
func (ps *PositionStore) All() []PositionEntry {
	ids := make([]SubAccountID, 0, len(ps.positions))
	for id := range ps.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i].Encode(), ids[j].Encode()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	out := make([]PositionEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, PositionEntry{ID: id, Pos: ps.positions[id]})
	}
	return out
}
