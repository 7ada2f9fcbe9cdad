// internal/testutil/fixture.go
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/book"
	"DegenVenue/internal/config"
	"DegenVenue/internal/fee"
	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/pool"
	"DegenVenue/internal/state"
)

// Standard fixture asset ids.
const (
	AssetUSDC uint8 = 0 // strict-stable collateral and liquidity asset
	AssetXXX  uint8 = 3 // tradable underlying
)

// Venue wires a complete in-memory venue with the standard two-asset setup
// used across the engine tests.
type Venue struct {
	Registry  *state.Registry
	Positions *state.PositionStore
	Balances  *ledger.BalanceTracker
	Config    *config.Store
	Oracle    *state.StaticOracle
	Tiers     *fee.StaticTiers
	Dist      *fee.Distributor
	Pool      *pool.Pool
	Book      *book.Book
	Broker    uuid.UUID

	seq int64
}

// NewVenue builds the standard fixture: USDC (stable, strict-stable,
// liquidity) and XXX (tradable, openable, shortable), with the parameter set
// most engine tests assume.
func NewVenue(t *testing.T) *Venue {
	t.Helper()

	registry := state.NewRegistry()
	if err := registry.Add(&state.Asset{
		ID:       AssetUSDC,
		Symbol:   "USDC",
		Decimals: 18,
		Flags: state.AssetEnabled | state.AssetStable | state.AssetStrictStable |
			state.AssetCanAddRemoveLiquidity,
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(&state.Asset{
		ID:       AssetXXX,
		Symbol:   "XXX",
		Decimals: 18,
		Flags: state.AssetEnabled | state.AssetTradable | state.AssetOpenable |
			state.AssetShortable,
		LotSize:               fpmath.Wad("0.1"),
		InitialMarginRate:     fpmath.Wad("0.006"),
		MaintenanceMarginRate: fpmath.Wad("0.005"),
		MinProfitRate:         fpmath.Wad("0.01"),
		MinProfitTime:         60,
		PositionFeeRate:       fpmath.Wad("0.001"),
		LiquidationFeeRate:    fpmath.Wad("0.002"),
		FundingAlpha:          fpmath.WadInt(20000),
		FundingBetaAPY:        fpmath.Wad("0.2"),
		AdlReserveRate:        fpmath.Wad("0.08"),
		AdlMaxPnlRate:         fpmath.Wad("0.5"),
		AdlTriggerRate:        fpmath.Wad("0.9"),
	}); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewStore()
	cfg.SetDecimal(config.KeyFundingInterval, decimal.New(3600, 0))
	cfg.SetDecimal(config.KeyBorrowingRateAPY, fpmath.Wad("0.01"))
	cfg.SetDecimal(config.KeyLiquidityFeeRate, fpmath.Wad("0.0001"))
	cfg.SetDecimal(config.KeyStrictStableDeviation, fpmath.Wad("0.005"))
	cfg.SetDecimal(config.KeyMarketOrderTimeout, decimal.New(120, 0))
	cfg.SetDecimal(config.KeyLimitOrderTimeout, decimal.New(86400*30, 0))
	cfg.SetDecimal(config.KeyCancelCoolDown, decimal.New(5, 0))
	cfg.SetDecimal(config.KeyLiquidityLockPeriod, decimal.New(900, 0))

	oracle := state.NewStaticOracle()
	oracle.Set(AssetUSDC, fpmath.One)

	tiers := fee.NewStaticTiers()
	dist, err := fee.NewDistributor(fee.DefaultShares(), tiers)
	if err != nil {
		t.Fatal(err)
	}

	positions := state.NewPositionStore()
	balances := ledger.NewBalanceTracker()
	p := pool.New(registry, positions, balances, cfg, oracle, dist)
	b := book.New(p, balances, cfg)

	broker := uuid.MustParse("00000000-0000-0000-0000-00000000b0b0")
	b.AddBroker(broker)

	return &Venue{
		Registry:  registry,
		Positions: positions,
		Balances:  balances,
		Config:    cfg,
		Oracle:    oracle,
		Tiers:     tiers,
		Dist:      dist,
		Pool:      p,
		Book:      b,
		Broker:    broker,
	}
}

func (v *Venue) nextSeq() int64 {
	v.seq++
	return v.seq
}

// FundWallet mints balance into a trader's wallet from external custody.
func (v *Venue) FundWallet(t *testing.T, owner uuid.UUID, assetID uint8, amount decimal.Decimal) {
	t.Helper()
	bld := ledger.NewBuilder("fund", v.nextSeq(), 0)
	bld.Transfer(ledger.JournalTypeDeposit, ledger.ExternalAccount(assetID),
		ledger.UserAccount(owner, ledger.SubTypeWallet, assetID), amount)
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
}

// SeedLiquidity installs pool liquidity without the order/fee path, a
// zero-fee bootstrap for accounting tests.
func (v *Venue) SeedLiquidity(t *testing.T, assetID uint8, amount decimal.Decimal) {
	t.Helper()
	a, err := v.Registry.Get(assetID)
	if err != nil {
		t.Fatal(err)
	}
	bld := ledger.NewBuilder("seed-liquidity", v.nextSeq(), 0)
	bld.Transfer(ledger.JournalTypeLiquidityAdd, ledger.ExternalAccount(assetID),
		ledger.SystemAccount(ledger.SubTypePoolLiquidity, assetID), amount)
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	a.SpotLiquidity = a.SpotLiquidity.Add(amount)
}

// Prices builds the standard vector: stable collateral and profit at 1.0,
// underlying at assetPrice.
func Prices(assetPrice decimal.Decimal) state.Prices {
	return state.Prices{
		Collateral: fpmath.One,
		Asset:      assetPrice,
		Profit:     fpmath.One,
	}
}

// RequireDecimalEqual fails the test when got != want.
func RequireDecimalEqual(t *testing.T, got, want decimal.Decimal, label string) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}
