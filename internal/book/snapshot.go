// internal/book/snapshot.go
package book

import (
	"sort"

	"github.com/google/uuid"
)

// SnapshotOrders returns a copy of every order, consumed ones included, in
// id order. The full slice is needed so restore preserves id assignment.
func (b *Book) SnapshotOrders() []Order {
	out := make([]Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = *o
	}
	return out
}

// RestoreOrders replaces the order queue from a snapshot.
func (b *Book) RestoreOrders(orders []Order) {
	b.orders = make([]*Order, len(orders))
	for i := range orders {
		o := orders[i]
		b.orders[i] = &o
	}
}

// Brokers returns the filler set in stable order.
func (b *Book) Brokers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(b.brokers))
	for id := range b.brokers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// BatchSequence returns the last assigned journal batch sequence.
func (b *Book) BatchSequence() int64 { return b.seq }

// SetBatchSequence restores the journal batch sequence from a snapshot.
func (b *Book) SetBatchSequence(seq int64) { b.seq = seq }
