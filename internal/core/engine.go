// internal/core/engine.go
package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/book"
	"DegenVenue/internal/config"
	"DegenVenue/internal/event"
	"DegenVenue/internal/ledger"
	"DegenVenue/internal/observability"
	"DegenVenue/internal/pool"
	"DegenVenue/internal/state"
)

// Engine is the deterministic command processor. It owns all venue state
// (balances, orders, positions, assets, config) and applies commands
// single-threaded: dedup, sequence check, dispatch, journal application,
// state hash, then emit. Given the same command stream it always produces
// the same hash chain.
type Engine struct {
	sequence int64

	cfg      *config.Store
	registry *state.Registry
	balances *ledger.BalanceTracker
	pool     *pool.Pool
	book     *book.Book

	validator         *ledger.InvariantValidator
	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Batches the book applied during the current dispatch. The book's sink
	// fills it; dispatch drains it.
	captured []*ledger.Batch

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	log zerolog.Logger
}

// CoreOutput is one applied command with its journal batch and state delta,
// handed to the persistence and projection workers.
type CoreOutput struct {
	Envelope   *event.CommandEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

func NewEngine(
	startSequence int64,
	cfg *config.Store,
	registry *state.Registry,
	balances *ledger.BalanceTracker,
	p *pool.Pool,
	b *book.Book,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	e := &Engine{
		sequence:          startSequence,
		cfg:               cfg,
		registry:          registry,
		balances:          balances,
		pool:              p,
		book:              b,
		validator:         ledger.NewInvariantValidator(balances),
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		log:               observability.NewLogger("core"),
	}
	b.SetBatchSink(func(batch *ledger.Batch) {
		e.captured = append(e.captured, batch)
	})
	return e
}

// ProcessCommand is the main processing pipeline.
func (e *Engine) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: sequence validation. Funding partitions tolerate gaps; a
	// skipped tick is caught up by the next one.
	if err := e.sequenceValidator.ValidateSequence(cmd.Partition(), cmd.SourceSequence(), isDuplicate); err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, "sequence").Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: dispatch. The book's sink captures every batch it applies;
	// engine-built batches (wallet transfers) are applied and captured here.
	e.captured = e.captured[:0]
	if err := e.dispatchCommand(cmd); err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, "dispatch").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	batches := e.captured
	if len(batches) == 0 {
		// State-only commands (funding ticks, config, asset params, broker
		// grants) produce no journals but still get an envelope in the log.
		batches = []*ledger.Batch{nil}
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal command %s: %v", commandType, err))
	}

	// Steps 4-8: per batch, digest, hash, envelope.
	outputs := make([]CoreOutput, 0, len(batches))
	for _, batch := range batches {
		hashStart := time.Now()
		prevHash := e.hasher.GetPrevHash()
		stateDigest := e.computeStateDigest(batch)
		stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
		if e.metrics != nil {
			e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
		}

		envelope := &event.CommandEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: idempotencyKey,
			CommandType:    cmd.CommandType(),
			Timestamp:      cmd.EventTime(),
			SourceSequence: cmd.SourceSequence(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		})
		e.sequence++

		if e.metrics != nil && batch != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 9: post-checks. A violation here is a staging bug, not a caller
	// error, so it halts the engine.
	if err := e.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 10: emit. Persistence uses a blocking send so no command is ever
	// lost; projections drop on full and rebuild from the log.
	for _, output := range outputs {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}

		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	// Step 11: mark processed.
	e.idempotency.MarkProcessed(commandType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *Engine) dispatchCommand(cmd event.Command) error {
	switch c := cmd.(type) {
	case *event.PlacePositionOrder:
		ids, err := e.book.PlacePositionOrder(c.Caller, c.Payload, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.OrdersPlaced.WithLabelValues("position").Add(float64(len(ids)))
			e.metrics.ActiveOrders.Set(float64(e.book.ActiveOrderCount()))
		}
		return nil

	case *event.PlaceLiquidityOrder:
		_, err := e.book.PlaceLiquidityOrder(c.Caller, c.Payload, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.OrdersPlaced.WithLabelValues("liquidity").Inc()
			e.metrics.ActiveOrders.Set(float64(e.book.ActiveOrderCount()))
		}
		return nil

	case *event.PlaceWithdrawalOrder:
		_, err := e.book.PlaceWithdrawalOrder(c.Caller, c.Payload, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.OrdersPlaced.WithLabelValues("withdrawal").Inc()
			e.metrics.ActiveOrders.Set(float64(e.book.ActiveOrderCount()))
		}
		return nil

	case *event.CancelOrder:
		if err := e.book.Cancel(c.Caller, c.OrderID, c.Timestamp); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.OrdersCancelled.WithLabelValues(orderKindLabel(e.book, c.OrderID)).Inc()
			e.metrics.ActiveOrders.Set(float64(e.book.ActiveOrderCount()))
		}
		return nil

	case *event.FillOrder:
		_, err := e.book.FillOrder(c.Broker, c.OrderID, c.Price, c.Prices, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.OrdersFilled.WithLabelValues(orderKindLabel(e.book, c.OrderID)).Inc()
			e.metrics.ActiveOrders.Set(float64(e.book.ActiveOrderCount()))
			e.updatePoolGauges()
		}
		return nil

	case *event.Liquidate:
		_, err := e.book.Liquidate(c.Broker, c.SubAccount, c.ProfitAssetID, c.Price, c.Prices, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.LiquidationsExecuted.WithLabelValues(fmt.Sprintf("%d", c.SubAccount.AssetID)).Inc()
			e.updatePoolGauges()
		}
		return nil

	case *event.ForceAdl:
		_, err := e.book.ForceAdl(c.Broker, c.SubAccount, c.SizeDelta, c.ProfitAssetID, c.Price, c.Prices, c.Timestamp)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.AdlExecuted.WithLabelValues(fmt.Sprintf("%d", c.SubAccount.AssetID)).Inc()
			e.updatePoolGauges()
		}
		return nil

	case *event.UpdateFunding:
		if err := e.pool.UpdateFundingState(c.AssetID, c.Timestamp); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.FundingUpdates.WithLabelValues(fmt.Sprintf("%d", c.AssetID)).Inc()
		}
		return nil

	case *event.Deposit:
		return e.handleDeposit(c)

	case *event.Withdraw:
		return e.handleWithdraw(c)

	case *event.DepositCollateral:
		return e.book.DepositCollateral(c.Caller, c.SubAccount, c.Amount, c.Timestamp)

	case *event.WithdrawAllCollateral:
		_, err := e.book.WithdrawAllCollateral(c.Caller, c.SubAccount, c.Timestamp)
		return err

	case *event.SetConfig:
		e.cfg.SetDecimal(config.KeyOf(c.Name), c.Value)
		return nil

	case *event.SetAsset:
		return e.handleSetAsset(c)

	case *event.SetBroker:
		if c.Enable {
			e.book.AddBroker(c.Broker)
		} else {
			e.book.RemoveBroker(c.Broker)
		}
		return nil

	default:
		return fmt.Errorf("unhandled command type %T", cmd)
	}
}

func (e *Engine) handleDeposit(c *event.Deposit) error {
	if !c.Amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive, got %s", c.Amount)
	}
	seq := e.book.BatchSequence() + 1
	e.book.SetBatchSequence(seq)
	bld := ledger.NewBuilder("deposit", seq, c.Timestamp)
	bld.Transfer(ledger.JournalTypeDeposit,
		ledger.ExternalAccount(c.AssetID),
		ledger.UserAccount(c.Owner, ledger.SubTypeWallet, c.AssetID),
		c.Amount)
	return e.applyDirect(bld)
}

func (e *Engine) handleWithdraw(c *event.Withdraw) error {
	if !c.Amount.IsPositive() {
		return fmt.Errorf("withdraw amount must be positive, got %s", c.Amount)
	}
	wallet := ledger.UserAccount(c.Owner, ledger.SubTypeWallet, c.AssetID)
	if err := e.balances.ValidateSufficient(wallet, c.Amount); err != nil {
		return err
	}
	seq := e.book.BatchSequence() + 1
	e.book.SetBatchSequence(seq)
	bld := ledger.NewBuilder("withdraw", seq, c.Timestamp)
	bld.Transfer(ledger.JournalTypeWithdrawal,
		wallet,
		ledger.ExternalAccount(c.AssetID),
		c.Amount)
	return e.applyDirect(bld)
}

// applyDirect commits an engine-built batch and captures it, mirroring what
// the book's apply path does for order batches.
func (e *Engine) applyDirect(bld *ledger.Builder) error {
	batch := bld.Batch()
	if err := e.balances.ApplyBatch(batch); err != nil {
		return err
	}
	e.captured = append(e.captured, batch)
	return nil
}

// handleSetAsset installs a new asset or updates an existing one's
// parameters. Running aggregates (spot liquidity, open interest, funding
// indices) survive an update untouched.
func (e *Engine) handleSetAsset(c *event.SetAsset) error {
	p := c.Params
	if existing, err := e.registry.Get(c.AssetID); err == nil {
		applyAssetParams(existing, p)
		return nil
	}
	a := &state.Asset{
		ID:       c.AssetID,
		Symbol:   p.Symbol,
		Decimals: p.Decimals,
	}
	applyAssetParams(a, p)
	return e.registry.Add(a)
}

func applyAssetParams(a *state.Asset, p event.AssetParams) {
	a.Flags = state.AssetFlag(p.Flags)
	a.LotSize = p.LotSize
	a.InitialMarginRate = p.InitialMarginRate
	a.MaintenanceMarginRate = p.MaintenanceMarginRate
	a.MinProfitRate = p.MinProfitRate
	a.MinProfitTime = p.MinProfitTime
	a.PositionFeeRate = p.PositionFeeRate
	a.LiquidationFeeRate = p.LiquidationFeeRate
	a.MaxLongPositionSize = p.MaxLongPositionSize
	a.MaxShortPositionSize = p.MaxShortPositionSize
	a.FundingAlpha = p.FundingAlpha
	a.FundingBetaAPY = p.FundingBetaAPY
	a.AdlReserveRate = p.AdlReserveRate
	a.AdlMaxPnlRate = p.AdlMaxPnlRate
	a.AdlTriggerRate = p.AdlTriggerRate
	a.ReferenceDeviation = p.ReferenceDeviation
	a.UseReferenceOracle = p.UseReferenceOracle
}

func orderKindLabel(b *book.Book, id uint64) string {
	o, ok := b.GetOrder(id)
	if !ok {
		return "unknown"
	}
	return o.Kind.String()
}

func (e *Engine) updatePoolGauges() {
	nav, _ := e.pool.NAV().Float64()
	price, _ := e.pool.SharePrice().Float64()
	e.metrics.PoolNAV.Set(nav)
	e.metrics.PoolSharePrice.Set(price)
}

// computeStateDigest builds a deterministic byte string over the accounts a
// batch touched: sorted account paths, each followed by its post-apply
// balance rendered as a decimal string.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Path() < accounts[j].Path()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.Path()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		balance := e.balances.GetBalance(key).String()
		digest = append(digest, byte(len(balance)))
		digest = append(digest, []byte(balance)...)
	}
	return digest
}

// postCheckInvariants validates ledger invariants after batch application.
func (e *Engine) postCheckInvariants(cmd event.Command) error {
	switch c := cmd.(type) {
	case *event.Withdraw:
		if err := e.validator.ValidateUserNonNegative(c.Owner, c.AssetID); err != nil {
			return err
		}
	case *event.FillOrder:
		// External custody runs negative by design; everything inside the
		// venue must not.
		for _, batch := range e.captured {
			for _, j := range batch.Journals {
				if j.CreditAccount.Scope == ledger.AccountScopeExternal {
					continue
				}
				if err := e.balances.ValidateNonNegative(j.CreditAccount); err != nil {
					return err
				}
			}
		}
	case *event.Liquidate:
		if err := e.validator.ValidatePoolNonNegative(c.SubAccount.CollateralID); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check.
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotState captures everything needed to restart without replaying the
// full log: balances, positions, asset aggregates, orders, config, sequence
// state, and the hash chain tip.
type SnapshotState struct {
	Sequence      int64
	StateHash     [32]byte
	BatchSequence int64

	Balances    map[ledger.AccountKey]decimal.Decimal
	Positions   []state.PositionEntry
	Assets      []*state.Asset
	ShareSupply decimal.Decimal
	Orders      []book.Order
	Brokers     []uuid.UUID
	Config      *config.Store

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	assets := e.registry.All()
	copies := make([]*state.Asset, len(assets))
	for i, a := range assets {
		dup := *a
		copies[i] = &dup
	}

	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		BatchSequence:   e.book.BatchSequence(),
		Balances:        e.balances.Snapshot(),
		Positions:       e.pool.Positions().All(),
		Assets:          copies,
		ShareSupply:     e.pool.ShareSupply(),
		Orders:          e.book.SnapshotOrders(),
		Brokers:         e.book.Brokers(),
		Config:          e.cfg.Clone(),
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm restart
// the caller loads the latest snapshot then replays the log tail.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.book.SetBatchSequence(snap.BatchSequence)

	for key, balance := range snap.Balances {
		e.balances.SetBalance(key, balance)
	}

	for _, pe := range snap.Positions {
		pos := e.pool.Positions().GetOrCreate(pe.ID)
		*pos = *pe.Pos
	}

	for _, a := range snap.Assets {
		if existing, err := e.registry.Get(a.ID); err == nil {
			*existing = *a
		} else if err := e.registry.Add(a); err != nil {
			return fmt.Errorf("restore asset %d: %w", a.ID, err)
		}
	}
	e.pool.SetShareSupply(snap.ShareSupply)

	e.book.RestoreOrders(snap.Orders)
	for _, id := range snap.Brokers {
		e.book.AddBroker(id)
	}

	if snap.Config != nil {
		*e.cfg = *snap.Config.Clone()
	}

	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	e.WarmLRU(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys, avoiding cold-path DB lookups for
// recently processed commands.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence the engine will assign.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current hash chain tip.
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Book exposes the order engine for read-only queries.
func (e *Engine) Book() *book.Book { return e.book }

// Pool exposes the position ledger for read-only queries.
func (e *Engine) Pool() *pool.Pool { return e.pool }

// Balances exposes the balance tracker for read-only queries.
func (e *Engine) Balances() *ledger.BalanceTracker { return e.balances }
