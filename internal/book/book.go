// internal/book/book.go
package book

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/config"
	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/observability"
	"DegenVenue/internal/pool"
)

// Notifier observes order lifecycle transitions. Implementations must not
// fail: notifications are fire-and-forget from the engine's point of view.
type Notifier interface {
	OrderPlaced(o *Order)
	OrderCancelled(o *Order)
	OrderFilled(o *Order)
}

// BatchSink receives every applied journal batch, in order.
type BatchSink func(*ledger.Batch)

// Book is the order engine: it owns the order queue, the collateral escrow,
// and the dispatch of filled orders into the position ledger. Execution is
// single-threaded; every operation validates fully, then settles atomically
// through one journal batch.
type Book struct {
	pool     *pool.Pool
	balances *ledger.BalanceTracker
	cfg      *config.Store

	orders  []*Order // index == order id
	brokers map[uuid.UUID]bool

	notifier Notifier
	sink     BatchSink

	seq int64 // batch sequence, advanced per applied batch

	log zerolog.Logger
}

func New(p *pool.Pool, balances *ledger.BalanceTracker, cfg *config.Store) *Book {
	return &Book{
		pool:     p,
		balances: balances,
		cfg:      cfg,
		brokers:  make(map[uuid.UUID]bool),
		log:      observability.NewLogger("book"),
	}
}

// SetNotifier installs the order lifecycle observer.
func (b *Book) SetNotifier(n Notifier) { b.notifier = n }

// SetBatchSink installs the journal batch consumer.
func (b *Book) SetBatchSink(s BatchSink) { b.sink = s }

// AddBroker grants the privileged filler role.
func (b *Book) AddBroker(id uuid.UUID) { b.brokers[id] = true }

// RemoveBroker revokes the filler role.
func (b *Book) RemoveBroker(id uuid.UUID) { delete(b.brokers, id) }

// IsBroker reports whether id holds the filler role.
func (b *Book) IsBroker(id uuid.UUID) bool { return b.brokers[id] }

func (b *Book) nextBuilder(eventRef string, now int64) *ledger.Builder {
	b.seq++
	return ledger.NewBuilder(eventRef, b.seq, now)
}

// apply commits a staged batch to the balance tracker and hands it to the
// sink. An apply failure means a staging bug, not a caller error.
func (b *Book) apply(bld *ledger.Builder) error {
	if bld.Empty() {
		return nil
	}
	if err := b.balances.ApplyBatch(bld.Batch()); err != nil {
		return err
	}
	if b.sink != nil {
		b.sink(bld.Batch())
	}
	return nil
}

// store appends the order, assigns its id, and emits the creation
// notification.
func (b *Book) store(o *Order) uint64 {
	o.ID = uint64(len(b.orders))
	o.Active = true
	b.orders = append(b.orders, o)
	if b.notifier != nil {
		b.notifier.OrderPlaced(o)
	}
	return o.ID
}

// GetOrder returns a copy of the order with the given id.
func (b *Book) GetOrder(id uint64) (Order, bool) {
	if id >= uint64(len(b.orders)) {
		return Order{}, false
	}
	return *b.orders[id], true
}

// IsActive reports whether the order exists and has not been consumed.
func (b *Book) IsActive(id uint64) bool {
	if id >= uint64(len(b.orders)) {
		return false
	}
	return b.orders[id].Active
}

// ListOrders pages through all active orders in id order.
func (b *Book) ListOrders(offset, count int) []Order {
	out := make([]Order, 0, count)
	skipped := 0
	for _, o := range b.orders {
		if !o.Active {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) == count {
			break
		}
		out = append(out, *o)
	}
	return out
}

// ListOrdersOf pages through one owner's active orders in id order.
func (b *Book) ListOrdersOf(owner uuid.UUID, offset, count int) []Order {
	out := make([]Order, 0, count)
	skipped := 0
	for _, o := range b.orders {
		if !o.Active || o.Owner != owner {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) == count {
			break
		}
		out = append(out, *o)
	}
	return out
}

// ActiveOrderCount returns the number of active orders.
func (b *Book) ActiveOrderCount() int {
	n := 0
	for _, o := range b.orders {
		if o.Active {
			n++
		}
	}
	return n
}

// validatePositionFlags rejects inconsistent flag combinations at placement.
func validatePositionFlags(p *PositionOrderPayload) error {
	f := p.Flags
	if f.Has(FlagMarketOrder) && f.Has(FlagTriggerOrder) {
		return ErrBadFlags
	}
	if f.Has(FlagOpenPosition) {
		if f.Has(FlagShouldReachMinProfit) || f.Has(FlagWithdrawAllIfEmpty) || f.Has(FlagAutoDeleverage) {
			return ErrBadFlags
		}
		if f.Has(FlagTpSlStrategy) && p.TpPrice.Sign() <= 0 && p.SlPrice.Sign() <= 0 {
			return ErrBadFlags
		}
	} else if p.CollateralDelta.Sign() != 0 {
		// Close orders never carry collateral.
		return ErrBadFlags
	}
	if !f.Has(FlagMarketOrder) && p.Price.Sign() <= 0 && !f.Has(FlagTpSlStrategy) {
		return ErrBadFlags
	}
	return nil
}

// PlacePositionOrder queues an open or close instruction, escrowing the
// collateral delta on open orders. A close order carrying the tp/sl-strategy
// flag expands into a take-profit and a stop-loss order; the returned slice
// holds every assigned id in placement order.
func (b *Book) PlacePositionOrder(owner uuid.UUID, payload PositionOrderPayload, now int64) ([]uint64, error) {
	if payload.SubAccount.Owner != owner {
		return nil, ErrUnauthorized
	}
	if payload.SizeDelta.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	a, err := b.pool.Registry().Get(payload.SubAccount.AssetID)
	if err != nil {
		return nil, err
	}
	if !fpmath.IsMultipleOf(payload.SizeDelta, a.LotSize) {
		return nil, ErrLotSize
	}
	if err := validatePositionFlags(&payload); err != nil {
		return nil, err
	}
	collAsset, err := b.pool.Registry().Get(payload.SubAccount.CollateralID)
	if err != nil {
		return nil, err
	}

	isOpen := payload.Flags.Has(FlagOpenPosition)
	if isOpen {
		if !a.IsTradable() || !a.IsOpenable() || !a.IsEnabled() {
			return nil, pool.ErrAssetDisabled
		}
		if !payload.SubAccount.IsLong && !a.IsShortable() {
			return nil, pool.ErrAssetDisabled
		}
		if !collAsset.IsStable() || !collAsset.IsEnabled() {
			return nil, pool.ErrCollateralNotStable
		}
	}

	if !payload.Flags.Has(FlagMarketOrder) && !payload.Flags.Has(FlagTpSlStrategy) {
		maxLife := b.cfg.Seconds(config.KeyLimitOrderTimeout)
		if payload.Deadline <= now || (maxLife > 0 && payload.Deadline > now+maxLife) {
			return nil, ErrBadDeadline
		}
	}

	if !isOpen && payload.Flags.Has(FlagTpSlStrategy) {
		return b.placeTpSlPair(owner, payload, now)
	}

	if isOpen && payload.CollateralDelta.Sign() > 0 {
		wallet := ledger.UserAccount(owner, ledger.SubTypeWallet, collAsset.ID)
		if err := b.balances.ValidateSufficient(wallet, payload.CollateralDelta); err != nil {
			return nil, err
		}
		bld := b.nextBuilder("order-escrow", now)
		bld.Transfer(ledger.JournalTypeOrderEscrow, wallet,
			ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, collAsset.ID), payload.CollateralDelta)
		if err := b.apply(bld); err != nil {
			return nil, err
		}
	}

	p := payload
	id := b.store(&Order{Kind: KindPosition, Owner: owner, PlacedAt: now, Position: &p})
	b.log.Debug().Uint64("order", id).Str("size", payload.SizeDelta.String()).Bool("open", isOpen).Msg("position order placed")
	return []uint64{id}, nil
}

// placeTpSlPair expands a close order carrying the tp/sl-strategy flag into
// its two legs.
func (b *Book) placeTpSlPair(owner uuid.UUID, payload PositionOrderPayload, now int64) ([]uint64, error) {
	if payload.TpPrice.Sign() <= 0 || payload.SlPrice.Sign() <= 0 {
		return nil, ErrBadFlags
	}
	tp := payload
	tp.Flags = FlagWithdrawAllIfEmpty | FlagShouldReachMinProfit
	tp.Price = payload.TpPrice
	tp.ProfitAssetID = payload.TpSlProfitAssetID
	tp.Deadline = payload.TpSlDeadline
	tp.CollateralDelta = decimal.Zero

	sl := payload
	sl.Flags = FlagTriggerOrder | FlagWithdrawAllIfEmpty
	sl.Price = payload.SlPrice
	sl.ProfitAssetID = payload.TpSlProfitAssetID
	sl.Deadline = payload.TpSlDeadline
	sl.CollateralDelta = decimal.Zero

	tpID := b.store(&Order{Kind: KindPosition, Owner: owner, PlacedAt: now, Position: &tp})
	slID := b.store(&Order{Kind: KindPosition, Owner: owner, PlacedAt: now, Position: &sl})
	return []uint64{tpID, slID}, nil
}

// PlaceLiquidityOrder queues an add or remove liquidity instruction,
// escrowing the raw asset or the pool shares.
func (b *Book) PlaceLiquidityOrder(owner uuid.UUID, payload LiquidityOrderPayload, now int64) (uint64, error) {
	if payload.Amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	a, err := b.pool.Registry().Get(payload.AssetID)
	if err != nil {
		return 0, err
	}
	if !a.HasLiquidity() || !a.IsEnabled() {
		return 0, pool.ErrAssetDisabled
	}

	escrowAsset := payload.AssetID
	jt := ledger.JournalTypeOrderEscrow
	if !payload.IsAdding {
		escrowAsset = ledger.ShareAssetID
	}
	wallet := ledger.UserAccount(owner, ledger.SubTypeWallet, escrowAsset)
	if err := b.balances.ValidateSufficient(wallet, payload.Amount); err != nil {
		return 0, err
	}
	bld := b.nextBuilder("order-escrow", now)
	bld.Transfer(jt, wallet,
		ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, escrowAsset), payload.Amount)
	if err := b.apply(bld); err != nil {
		return 0, err
	}

	p := payload
	id := b.store(&Order{Kind: KindLiquidity, Owner: owner, PlacedAt: now, Liquidity: &p})
	b.log.Debug().Uint64("order", id).Bool("adding", payload.IsAdding).Msg("liquidity order placed")
	return id, nil
}

// PlaceWithdrawalOrder queues a collateral withdrawal.
func (b *Book) PlaceWithdrawalOrder(owner uuid.UUID, payload WithdrawalOrderPayload, now int64) (uint64, error) {
	if payload.SubAccount.Owner != owner {
		return 0, ErrUnauthorized
	}
	if payload.Amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	if pos := b.pool.Positions().Get(payload.SubAccount); pos == nil || pos.IsEmpty() {
		return 0, pool.ErrEmptyPosition
	}
	p := payload
	id := b.store(&Order{Kind: KindWithdrawal, Owner: owner, PlacedAt: now, Withdrawal: &p})
	return id, nil
}

// Cancel deactivates an order and refunds its escrow verbatim. Owners are
// gated by the cancel cool-down; the broker by the kind-specific timeout.
func (b *Book) Cancel(caller uuid.UUID, id uint64, now int64) error {
	if id >= uint64(len(b.orders)) || !b.orders[id].Active {
		return ErrOrderNotFound
	}
	o := b.orders[id]

	switch {
	case caller == o.Owner:
		coolDown := b.cfg.Seconds(config.KeyCancelCoolDown)
		if now < o.PlacedAt+coolDown {
			return ErrCoolingDown
		}
	case b.IsBroker(caller):
		if err := b.brokerCancelAllowed(o, now); err != nil {
			return err
		}
	default:
		return ErrUnauthorized
	}

	bld := b.nextBuilder("order-cancel", now)
	b.stageRefund(bld, o)
	o.Active = false
	if err := b.apply(bld); err != nil {
		return err
	}
	if b.notifier != nil {
		b.notifier.OrderCancelled(o)
	}
	b.log.Debug().Uint64("order", id).Msg("order cancelled")
	return nil
}

// brokerCancelAllowed enforces the kind-specific timeout for filler-initiated
// cancels: expired orders only, never ones that are about to be filled.
func (b *Book) brokerCancelAllowed(o *Order, now int64) error {
	switch o.Kind {
	case KindPosition:
		if o.Position.Flags.Has(FlagMarketOrder) {
			if now < o.PlacedAt+b.cfg.Seconds(config.KeyMarketOrderTimeout) {
				return ErrTooEarly
			}
			return nil
		}
		if o.Position.Deadline > 0 && now < o.Position.Deadline {
			return ErrTooEarly
		}
		return nil
	case KindLiquidity:
		if now < o.PlacedAt+b.cfg.Seconds(config.KeyLiquidityLockPeriod) {
			return ErrTooEarly
		}
		return nil
	case KindWithdrawal:
		if now < o.PlacedAt+b.cfg.Seconds(config.KeyMarketOrderTimeout) {
			return ErrTooEarly
		}
		return nil
	}
	return ErrOrderNotFound
}

// stageRefund returns escrowed assets for an order being cancelled.
func (b *Book) stageRefund(bld *ledger.Builder, o *Order) {
	switch o.Kind {
	case KindPosition:
		p := o.Position
		if p.Flags.Has(FlagOpenPosition) && p.CollateralDelta.Sign() > 0 {
			assetID := p.SubAccount.CollateralID
			bld.Transfer(ledger.JournalTypeOrderRefund,
				ledger.UserAccount(o.Owner, ledger.SubTypeOrderEscrow, assetID),
				ledger.UserAccount(o.Owner, ledger.SubTypeWallet, assetID), p.CollateralDelta)
		}
	case KindLiquidity:
		p := o.Liquidity
		assetID := p.AssetID
		if !p.IsAdding {
			assetID = ledger.ShareAssetID
		}
		bld.Transfer(ledger.JournalTypeOrderRefund,
			ledger.UserAccount(o.Owner, ledger.SubTypeOrderEscrow, assetID),
			ledger.UserAccount(o.Owner, ledger.SubTypeWallet, assetID), p.Amount)
	}
}
