// internal/pool/pool.go
package pool

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/config"
	"DegenVenue/internal/fee"
	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/observability"
	"DegenVenue/internal/state"
)

// Pool is the position ledger: it owns per-subaccount margin state, the
// per-asset aggregates, and the funding/PnL/liquidation math. The order
// engine drives it; both stage their token movements onto a shared journal
// builder so that a fill settles atomically or not at all.
//
// Every public operation validates fully before mutating: once the first
// position or aggregate write happens, nothing after it can fail.
type Pool struct {
	registry  *state.Registry
	positions *state.PositionStore
	balances  *ledger.BalanceTracker
	cfg       *config.Store
	oracle    state.ReferenceOracle
	dist      *fee.Distributor

	shareSupply decimal.Decimal

	log zerolog.Logger
}

func New(
	registry *state.Registry,
	positions *state.PositionStore,
	balances *ledger.BalanceTracker,
	cfg *config.Store,
	oracle state.ReferenceOracle,
	dist *fee.Distributor,
) *Pool {
	return &Pool{
		registry:    registry,
		positions:   positions,
		balances:    balances,
		cfg:         cfg,
		oracle:      oracle,
		dist:        dist,
		shareSupply: decimal.Zero,
		log:         observability.NewLogger("pool"),
	}
}

// Registry exposes the asset registry to the order engine.
func (p *Pool) Registry() *state.Registry { return p.registry }

// Positions exposes the position store.
func (p *Pool) Positions() *state.PositionStore { return p.positions }

// ShareSupply returns the outstanding pool shares.
func (p *Pool) ShareSupply() decimal.Decimal { return p.shareSupply }

// SetShareSupply restores the share supply from a snapshot.
func (p *Pool) SetShareSupply(supply decimal.Decimal) { p.shareSupply = supply }

// priceOf resolves the effective price for an asset from a broker report,
// applying the strict-stable dampener, and records it as the asset's mark.
func (p *Pool) priceOf(a *state.Asset, reported decimal.Decimal) decimal.Decimal {
	price := state.EffectivePrice(a, reported, p.oracle, p.cfg.Decimal(config.KeyStrictStableDeviation))
	a.LastMarkPrice = price
	return price
}

// NAV values the pool across all assets at their last marks.
func (p *Pool) NAV() decimal.Decimal {
	nav := decimal.Zero
	for _, a := range p.registry.All() {
		if a.SpotLiquidity.Sign() > 0 {
			nav = nav.Add(fpmath.WadMul(a.SpotLiquidity, a.MarkPrice()))
		}
	}
	return nav
}

// SharePrice returns NAV per outstanding share, 1.0 while no shares exist.
func (p *Pool) SharePrice() decimal.Decimal {
	if p.shareSupply.IsZero() {
		return fpmath.One
	}
	return fpmath.WadDiv(p.NAV(), p.shareSupply)
}

// reservedValue is the USD value the open interest keeps reserved for ADL
// payouts, summed across assets at their last marks.
func (p *Pool) reservedValue() decimal.Decimal {
	reserved := decimal.Zero
	for _, a := range p.registry.All() {
		if a.AdlReserveRate.Sign() <= 0 {
			continue
		}
		oi := a.TotalLongSize.Add(a.TotalShortSize)
		if oi.Sign() > 0 {
			reserved = reserved.Add(fpmath.WadMul(fpmath.WadMul(oi, a.MarkPrice()), a.AdlReserveRate))
		}
	}
	return reserved
}

// AddLiquidity settles a filled add-liquidity order: amount sits in the
// owner's escrow, the entry fee is split off, the net enters spot liquidity,
// and shares are minted at the pre-contribution share price.
func (p *Pool) AddLiquidity(
	bld *ledger.Builder,
	owner uuid.UUID,
	assetID uint8,
	amount decimal.Decimal,
	reportedPrice decimal.Decimal,
) (shares, feePaid decimal.Decimal, err error) {
	a, err := p.registry.Get(assetID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !a.HasLiquidity() || !a.IsEnabled() {
		return decimal.Zero, decimal.Zero, ErrAssetDisabled
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, ErrZeroAmount
	}

	price := p.priceOf(a, reportedPrice)
	feePaid = fpmath.WadMul(amount, p.cfg.Decimal(config.KeyLiquidityFeeRate))
	net := amount.Sub(feePaid)
	netValue := fpmath.WadMul(net, price)

	sharePrice := p.SharePrice()
	if cap := p.cfg.Decimal(config.KeyLiquidityCapUSD); cap.Sign() > 0 {
		if p.NAV().Add(netValue).GreaterThan(cap) {
			return decimal.Zero, decimal.Zero, ErrLiquidityCap
		}
	}
	shares = fpmath.WadDiv(netValue, sharePrice)

	escrow := ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, assetID)
	bld.Transfer(ledger.JournalTypeLiquidityAdd, escrow,
		ledger.SystemAccount(ledger.SubTypePoolLiquidity, assetID), net)
	p.dist.Distribute(bld, owner, escrow, feePaid, assetID)
	bld.Transfer(ledger.JournalTypeShareMint,
		ledger.ExternalAccount(ledger.ShareAssetID),
		ledger.UserAccount(owner, ledger.SubTypeWallet, ledger.ShareAssetID), shares)

	a.SpotLiquidity = a.SpotLiquidity.Add(net)
	p.shareSupply = p.shareSupply.Add(shares)

	p.log.Debug().
		Str("owner", owner.String()).
		Uint8("asset", assetID).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Msg("liquidity added")
	return shares, feePaid, nil
}

// RemoveLiquidity settles a filled remove-liquidity order: the owner's
// escrowed shares are burned and the underlying is paid out at the current
// share price, minus the exit fee.
func (p *Pool) RemoveLiquidity(
	bld *ledger.Builder,
	owner uuid.UUID,
	assetID uint8,
	shares decimal.Decimal,
	reportedPrice decimal.Decimal,
) (payout, feePaid decimal.Decimal, err error) {
	a, err := p.registry.Get(assetID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !a.HasLiquidity() || !a.IsEnabled() {
		return decimal.Zero, decimal.Zero, ErrAssetDisabled
	}
	if shares.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, ErrZeroAmount
	}

	price := p.priceOf(a, reportedPrice)
	value := fpmath.WadMul(shares, p.SharePrice())
	units := fpmath.WadDiv(value, price)
	if a.SpotLiquidity.LessThan(units) {
		return decimal.Zero, decimal.Zero, ErrInsufficientLiquidity
	}
	// Open interest keeps its ADL reserve in stable liquidity; a removal may
	// not dip into it.
	if a.IsStable() {
		remaining := fpmath.WadMul(a.SpotLiquidity.Sub(units), price)
		if p.reservedValue().GreaterThan(remaining) {
			return decimal.Zero, decimal.Zero, ErrInsufficientReserve
		}
	}
	feePaid = fpmath.WadMul(units, p.cfg.Decimal(config.KeyLiquidityFeeRate))
	payout = units.Sub(feePaid)

	poolAcct := ledger.SystemAccount(ledger.SubTypePoolLiquidity, assetID)
	bld.Transfer(ledger.JournalTypeLiquidityRemove, poolAcct,
		ledger.UserAccount(owner, ledger.SubTypeWallet, assetID), payout)
	p.dist.Distribute(bld, owner, poolAcct, feePaid, assetID)
	bld.Transfer(ledger.JournalTypeShareBurn,
		ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, ledger.ShareAssetID),
		ledger.ExternalAccount(ledger.ShareAssetID), shares)

	a.SpotLiquidity = a.SpotLiquidity.Sub(units)
	p.shareSupply = p.shareSupply.Sub(shares)

	p.log.Debug().
		Str("owner", owner.String()).
		Uint8("asset", assetID).
		Str("shares", shares.String()).
		Str("payout", payout.String()).
		Msg("liquidity removed")
	return payout, feePaid, nil
}
