package pool_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/config"
	"DegenVenue/internal/ledger"
	fpmath "DegenVenue/internal/math"
	"DegenVenue/internal/pool"
	"DegenVenue/internal/state"
	"DegenVenue/internal/testutil"
)

func sub(owner uuid.UUID, isLong bool) state.SubAccountID {
	return state.SubAccountID{
		Owner:        owner,
		CollateralID: testutil.AssetUSDC,
		AssetID:      testutil.AssetXXX,
		IsLong:       isLong,
	}
}

// escrow moves wallet funds into order escrow, mimicking order placement.
func escrow(t *testing.T, v *testutil.Venue, owner uuid.UUID, assetID uint8, amount decimal.Decimal) {
	t.Helper()
	bld := ledger.NewBuilder("escrow", 0, 0)
	bld.Transfer(ledger.JournalTypeOrderEscrow,
		ledger.UserAccount(owner, ledger.SubTypeWallet, assetID),
		ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, assetID), amount)
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// Test: liquidity
// ============================================================================

func TestAddLiquidity_FeeAndShares(t *testing.T) {
	v := testutil.NewVenue(t)
	lp := uuid.New()
	amount := fpmath.WadInt(1_000_000)
	v.FundWallet(t, lp, testutil.AssetUSDC, amount)
	escrow(t, v, lp, testutil.AssetUSDC, amount)

	bld := ledger.NewBuilder("fill", 1, 1000)
	shares, feePaid, err := v.Pool.AddLiquidity(bld, lp, testutil.AssetUSDC, amount, fpmath.One)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	testutil.RequireDecimalEqual(t, feePaid, fpmath.WadInt(100), "entry fee")
	testutil.RequireDecimalEqual(t, shares, fpmath.WadInt(999_900), "minted shares")

	usdc, _ := v.Registry.Get(testutil.AssetUSDC)
	testutil.RequireDecimalEqual(t, usdc.SpotLiquidity, fpmath.WadInt(999_900), "spot liquidity")
	testutil.RequireDecimalEqual(t, v.Pool.SharePrice(), fpmath.One, "share price")
	testutil.RequireDecimalEqual(t, v.Balances.PoolLiquidity(testutil.AssetUSDC), fpmath.WadInt(999_900), "pool custody")
}

func TestLiquidity_RoundTripCostsTwoFees(t *testing.T) {
	v := testutil.NewVenue(t)
	lp := uuid.New()
	amount := fpmath.WadInt(1_000_000)
	v.FundWallet(t, lp, testutil.AssetUSDC, amount)
	escrow(t, v, lp, testutil.AssetUSDC, amount)

	bld := ledger.NewBuilder("fill-add", 1, 1000)
	shares, fee1, err := v.Pool.AddLiquidity(bld, lp, testutil.AssetUSDC, amount, fpmath.One)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Shares move through escrow like a remove-liquidity order would.
	escrow(t, v, lp, ledger.ShareAssetID, shares)
	bld = ledger.NewBuilder("fill-remove", 2, 2000)
	payout, fee2, err := v.Pool.RemoveLiquidity(bld, lp, testutil.AssetUSDC, shares, fpmath.One)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	want := amount.Sub(fee1).Sub(fee2)
	testutil.RequireDecimalEqual(t, payout, want, "round-trip payout")
	if payout.GreaterThanOrEqual(amount) {
		t.Fatal("round trip must never return more than deposited")
	}
	testutil.RequireDecimalEqual(t, v.Pool.ShareSupply(), decimal.Zero, "share supply after burn")
}

func TestAddLiquidity_RespectsCap(t *testing.T) {
	v := testutil.NewVenue(t)
	v.Config.SetDecimal(config.KeyLiquidityCapUSD, fpmath.WadInt(100))
	lp := uuid.New()
	amount := fpmath.WadInt(1000)
	v.FundWallet(t, lp, testutil.AssetUSDC, amount)
	escrow(t, v, lp, testutil.AssetUSDC, amount)

	bld := ledger.NewBuilder("fill", 1, 1000)
	_, _, err := v.Pool.AddLiquidity(bld, lp, testutil.AssetUSDC, amount, fpmath.One)
	if !errors.Is(err, pool.ErrLiquidityCap) {
		t.Fatalf("got %v, want ErrLiquidityCap", err)
	}
}

func TestRemoveLiquidity_KeepsAdlReserve(t *testing.T) {
	v := testutil.NewVenue(t)
	lp := uuid.New()
	amount := fpmath.WadInt(1_000_000)
	v.FundWallet(t, lp, testutil.AssetUSDC, amount)
	escrow(t, v, lp, testutil.AssetUSDC, amount)

	bld := ledger.NewBuilder("fill-add", 1, 1000)
	shares, _, err := v.Pool.AddLiquidity(bld, lp, testutil.AssetUSDC, amount, fpmath.One)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// 900,000 of open interest at price 1 reserves 72,000 at the 8% rate.
	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(10_000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(10_000))
	bld = ledger.NewBuilder("open", 2, 1000)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(10_000), fpmath.WadInt(900_000), fpmath.One, testutil.Prices(fpmath.One), 1000); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Removing almost everything would leave 9,900 of spot against the
	// 72,000 reserve.
	escrow(t, v, lp, ledger.ShareAssetID, shares)
	bld = ledger.NewBuilder("fill-remove", 3, 2000)
	if _, _, err := v.Pool.RemoveLiquidity(bld, lp, testutil.AssetUSDC, fpmath.WadInt(990_000), fpmath.One); !errors.Is(err, pool.ErrInsufficientReserve) {
		t.Fatalf("got %v, want ErrInsufficientReserve", err)
	}

	// A removal that keeps the reserve covered still goes through.
	bld = ledger.NewBuilder("fill-remove", 4, 2000)
	if _, _, err := v.Pool.RemoveLiquidity(bld, lp, testutil.AssetUSDC, fpmath.WadInt(100_000), fpmath.One); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// Test: open / increase
// ============================================================================

func TestOpenShort_Example(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := sub(trader, false)

	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))

	bld := ledger.NewBuilder("fill", 1, 1000)
	res, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// 0.1% fee on 2000 notional = 2
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.WadInt(2), "position fee")
	testutil.RequireDecimalEqual(t, res.Collateral, fpmath.WadInt(998), "remaining collateral")
	testutil.RequireDecimalEqual(t, res.EntryPrice, fpmath.WadInt(2000), "entry price")

	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	testutil.RequireDecimalEqual(t, xxx.TotalShortSize, fpmath.WadInt(1), "aggregate short size")
	testutil.RequireDecimalEqual(t, xxx.AvgShortPrice, fpmath.WadInt(2000), "aggregate short avg")
}

func TestOpen_RejectsUnsafeMargin(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := sub(trader, true)

	// 1% of the required initial margin
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.Wad("0.1"))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.Wad("0.1"))

	bld := ledger.NewBuilder("fill", 1, 1000)
	_, err := v.Pool.OpenOrIncrease(bld, id, fpmath.Wad("0.1"), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000)
	if !errors.Is(err, pool.ErrUnsafePosition) {
		t.Fatalf("got %v, want ErrUnsafePosition", err)
	}
	// Nothing applied, nothing mutated
	if v.Positions.Len() != 0 {
		t.Error("rejected open must not leave a position behind")
	}
	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	testutil.RequireDecimalEqual(t, xxx.TotalLongSize, decimal.Zero, "aggregate long size")
}

func TestOpen_RejectsInsufficientReserve(t *testing.T) {
	v := testutil.NewVenue(t)
	// Tiny pool: 1 XXX at 2000 needs 160 of reserve at 8%
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(100))
	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))

	bld := ledger.NewBuilder("fill", 1, 1000)
	_, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000)
	if !errors.Is(err, pool.ErrInsufficientReserve) {
		t.Fatalf("got %v, want ErrInsufficientReserve", err)
	}
}

func TestOpen_RejectsPositionSizeCap(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	xxx.MaxLongPositionSize = fpmath.Wad("0.5")

	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))

	bld := ledger.NewBuilder("fill", 1, 1000)
	_, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000)
	if !errors.Is(err, pool.ErrPositionSizeCap) {
		t.Fatalf("got %v, want ErrPositionSizeCap", err)
	}
}

// openLong is shared setup: trader long 1 XXX @ 2000 with 1000 collateral.
func openLong(t *testing.T, v *testutil.Venue, trader uuid.UUID, now int64) state.SubAccountID {
	t.Helper()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	bld := ledger.NewBuilder("open", 0, now)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), now); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	return id
}

// ============================================================================
// Test: close / decrease
// ============================================================================

func TestClose_CappedProfit(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	// Raw profit at 3501 is 1501; the 50% cap against entry notional 2000
	// holds it at 1000.
	bld := ledger.NewBuilder("close", 1, 2000)
	res, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(3501), testutil.Prices(fpmath.WadInt(3501)), testutil.AssetUSDC, false, true, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	testutil.RequireDecimalEqual(t, res.PnL, fpmath.WadInt(1000), "capped pnl")
	// Fee: 3501 * 1 * 0.001 = 3.501, netted against the profit payout; the
	// collateral comes back untouched.
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.Wad("3.501"), "close fee")
	testutil.RequireDecimalEqual(t, res.ProfitPaid, fpmath.Wad("996.499"), "profit paid net of fee")
	testutil.RequireDecimalEqual(t, res.Withdrawn, fpmath.WadInt(998), "withdrawn collateral")
	if v.Positions.Get(id) != nil {
		t.Error("fully closed position must be pruned")
	}
}

func TestClose_LossComesFromCollateral(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	bld := ledger.NewBuilder("close", 1, 2000)
	res, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(1900), testutil.Prices(fpmath.WadInt(1900)), testutil.AssetUSDC, false, true, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	testutil.RequireDecimalEqual(t, res.PnL, fpmath.WadInt(-100), "realized loss")
	// fee 1.9, loss 100: 998 - 1.9 - 100 = 896.1 returned
	testutil.RequireDecimalEqual(t, res.Withdrawn, fpmath.Wad("896.1"), "withdrawn collateral")

	usdc, _ := v.Registry.Get(testutil.AssetUSDC)
	testutil.RequireDecimalEqual(t, usdc.SpotLiquidity, fpmath.WadInt(1_000_100), "pool absorbed the loss")
}

func TestClose_FeeNetsAgainstProfit(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	bld := ledger.NewBuilder("open", 0, 1000)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(2), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Profit 100 covers the 2.1 fee in full; the collateral stays whole.
	bld = ledger.NewBuilder("close", 1, 2000)
	res, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2100), testutil.Prices(fpmath.WadInt(2100)), testutil.AssetUSDC, false, false, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.Wad("2.1"), "fee")
	testutil.RequireDecimalEqual(t, res.ProfitPaid, fpmath.Wad("97.9"), "profit net of fee")
	testutil.RequireDecimalEqual(t, res.RemainingColl, fpmath.WadInt(996), "collateral untouched")

	// Profit 1 covers only part of the 2.001 fee; the rest comes from
	// collateral.
	bld = ledger.NewBuilder("close", 2, 3000)
	res, err = v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2001), testutil.Prices(fpmath.WadInt(2001)), testutil.AssetUSDC, false, false, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.Wad("2.001"), "fee")
	testutil.RequireDecimalEqual(t, res.ProfitPaid, decimal.Zero, "profit consumed by the fee")
	testutil.RequireDecimalEqual(t, res.RemainingColl, fpmath.Wad("994.999"), "residual fee from collateral")
}

func TestClose_MinProfitGate(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	// 10 seconds after entry, profit 10 (0.5% < 1% min rate): rejected
	bld := ledger.NewBuilder("close", 1, 1010)
	_, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2010), testutil.Prices(fpmath.WadInt(2010)), testutil.AssetUSDC, true, true, 1010)
	if !errors.Is(err, pool.ErrProfitTooEarly) {
		t.Fatalf("got %v, want ErrProfitTooEarly", err)
	}

	// Same price after the minimum holding time: allowed
	bld = ledger.NewBuilder("close", 2, 1061)
	if _, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2010), testutil.Prices(fpmath.WadInt(2010)), testutil.AssetUSDC, true, true, 1061); err != nil {
		t.Fatalf("close after min profit time: %v", err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
}

func TestClose_PartialKeepsEntry(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	bld := ledger.NewBuilder("open", 0, 1000)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(2), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	bld = ledger.NewBuilder("close", 1, 2000)
	res, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2100), testutil.Prices(fpmath.WadInt(2100)), testutil.AssetUSDC, false, false, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.RemainingSize, fpmath.WadInt(1), "remaining size")
	pos := v.Positions.Get(id)
	testutil.RequireDecimalEqual(t, pos.EntryPrice, fpmath.WadInt(2000), "entry unchanged on partial close")
}

// ============================================================================
// Test: funding
// ============================================================================

func TestUpdateFundingState_BorrowingOneDay(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	openLong(t, v, trader, 3600) // establishes long OI so funding has a heavy side

	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 3600); err != nil {
		t.Fatal(err)
	}
	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	if !xxx.ShortCumulativeFunding.IsZero() {
		t.Fatal("no accrual on the first observation")
	}

	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 3600+86400); err != nil {
		t.Fatal(err)
	}
	// Short side: borrowing only, 0.01/365
	testutil.RequireDecimalEqual(t, xxx.ShortCumulativeFunding, fpmath.Wad("0.000027397260273972"), "short borrowing accrual")
	// Long side is heavier: borrowing plus funding (skew 2000/20000 * 0.2 = 0.02)
	if !xxx.LongCumulativeFunding.GreaterThan(xxx.ShortCumulativeFunding) {
		t.Error("heavier side must accrue funding on top of borrowing")
	}
}

func TestUpdateFundingState_IdempotentWithinInterval(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	openLong(t, v, trader, 3600)

	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 3600); err != nil {
		t.Fatal(err)
	}
	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 7200); err != nil {
		t.Fatal(err)
	}
	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	after := xxx.LongCumulativeFunding

	// Repeats inside the same interval change nothing
	for _, ts := range []int64{7200, 7500, 7800} {
		if err := v.Pool.UpdateFundingState(testutil.AssetXXX, ts); err != nil {
			t.Fatal(err)
		}
		testutil.RequireDecimalEqual(t, xxx.LongCumulativeFunding, after, "index within interval")
	}
}

func TestFundingIndices_Monotonic(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	openLong(t, v, trader, 3600)

	xxx, _ := v.Registry.Get(testutil.AssetXXX)
	prevLong, prevShort := xxx.LongCumulativeFunding, xxx.ShortCumulativeFunding
	for ts := int64(3600); ts <= 30*3600; ts += 3600 {
		if err := v.Pool.UpdateFundingState(testutil.AssetXXX, ts); err != nil {
			t.Fatal(err)
		}
		if xxx.LongCumulativeFunding.LessThan(prevLong) || xxx.ShortCumulativeFunding.LessThan(prevShort) {
			t.Fatalf("funding index decreased at t=%d", ts)
		}
		prevLong, prevShort = xxx.LongCumulativeFunding, xxx.ShortCumulativeFunding
	}
}

func TestClose_ChargesFunding(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 3600)

	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 3600); err != nil {
		t.Fatal(err)
	}
	if err := v.Pool.UpdateFundingState(testutil.AssetXXX, 3600+86400); err != nil {
		t.Fatal(err)
	}

	bld := ledger.NewBuilder("close", 1, 3600+86400)
	res, err := v.Pool.CloseOrDecrease(bld, id, fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), testutil.AssetUSDC, false, true, 3600+86400)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	if res.FundingFee.Sign() <= 0 {
		t.Error("a day of borrowing must charge a funding fee on close")
	}
}

// ============================================================================
// Test: liquidation
// ============================================================================

func TestLiquidate_MarginSafeRejected(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	bld := ledger.NewBuilder("liq", 1, 2000)
	_, err := v.Pool.Liquidate(bld, id, testutil.AssetUSDC, fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)))
	if !errors.Is(err, pool.ErrMarginSafe) {
		t.Fatalf("got %v, want ErrMarginSafe", err)
	}
}

func TestLiquidate_ClampsFeeAndCollateral(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()

	// Thin short: 20 collateral against 1 XXX short at 2000
	id := sub(trader, false)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(22))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(22))
	bld := ledger.NewBuilder("open", 0, 1000)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(22), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Price moves against the short beyond its collateral
	bld = ledger.NewBuilder("liq", 1, 2000)
	res, err := v.Pool.Liquidate(bld, id, testutil.AssetUSDC, fpmath.WadInt(2030), testutil.Prices(fpmath.WadInt(2030)))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Loss 30 exceeds collateral 20: everything is absorbed, nothing is owed
	testutil.RequireDecimalEqual(t, res.ReturnedUnits, decimal.Zero, "returned collateral")
	testutil.RequireDecimalEqual(t, res.FeePaid, decimal.Zero, "fee clamped to zero claim")
	if v.Positions.Get(id) != nil {
		t.Error("liquidated position must be removed")
	}
	// Ledger never went negative anywhere
	iv := ledger.NewInvariantValidator(v.Balances)
	if err := iv.ValidateUserNonNegative(trader, testutil.AssetUSDC); err != nil {
		t.Error(err)
	}
	if err := iv.ValidateGlobalBalance(); err != nil {
		t.Error(err)
	}
}

func TestLiquidate_PartialRemainderReturned(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()

	id := sub(trader, false)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(22))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(22))
	bld := ledger.NewBuilder("open", 0, 1000)
	if _, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(22), fpmath.WadInt(1), fpmath.WadInt(2000), testutil.Prices(fpmath.WadInt(2000)), 1000); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Loss 12 of 20 collateral; maintenance is 0.005*2012 = 10.06 > 8 margin
	bld = ledger.NewBuilder("liq", 1, 2000)
	res, err := v.Pool.Liquidate(bld, id, testutil.AssetUSDC, fpmath.WadInt(2012), testutil.Prices(fpmath.WadInt(2012)))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}

	// Fee = 0.002 * 2012 = 4.024; remainder 20-12-4.024 = 3.976
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.Wad("4.024"), "liquidation fee")
	testutil.RequireDecimalEqual(t, res.ReturnedUnits, fpmath.Wad("3.976"), "returned collateral")
	if res.ReturnedUnits.Sign() < 0 {
		t.Fatal("remaining collateral can never be negative")
	}
}

// ============================================================================
// Test: ADL
// ============================================================================

func TestFillAdl_TriggerGate(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	// ROE 40% < 90% trigger
	bld := ledger.NewBuilder("adl", 1, 2000)
	_, err := v.Pool.FillAdlOrder(bld, id, fpmath.WadInt(1), fpmath.WadInt(2800), testutil.Prices(fpmath.WadInt(2800)), testutil.AssetUSDC, 2000)
	if !errors.Is(err, pool.ErrAdlNotAllowed) {
		t.Fatalf("got %v, want ErrAdlNotAllowed", err)
	}

	// Raw pnl 1800 = 90% of entry notional: trigger reached, profit capped at 1000
	bld = ledger.NewBuilder("adl", 2, 2000)
	res, err := v.Pool.FillAdlOrder(bld, id, fpmath.WadInt(1), fpmath.WadInt(3800), testutil.Prices(fpmath.WadInt(3800)), testutil.AssetUSDC, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.PnL, fpmath.WadInt(1000), "adl capped pnl")
}

func TestFillAdl_TriggersAtIndexSettlesAtTradingPrice(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	// At a 3501 index the unrealized return sits under the 90% trigger.
	bld := ledger.NewBuilder("adl", 1, 2000)
	_, err := v.Pool.FillAdlOrder(bld, id, fpmath.WadInt(1), fpmath.WadInt(3501), testutil.Prices(fpmath.WadInt(3501)), testutil.AssetUSDC, 2000)
	if !errors.Is(err, pool.ErrAdlNotAllowed) {
		t.Fatalf("got %v, want ErrAdlNotAllowed", err)
	}

	// A 3800 index reaches the trigger while the settlement still prices at
	// the 3501 execution.
	bld = ledger.NewBuilder("adl", 2, 2000)
	res, err := v.Pool.FillAdlOrder(bld, id, fpmath.WadInt(1), fpmath.WadInt(3501), testutil.Prices(fpmath.WadInt(3800)), testutil.AssetUSDC, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.PnL, fpmath.WadInt(1000), "capped pnl")
	testutil.RequireDecimalEqual(t, res.FeePaid, fpmath.Wad("3.501"), "fee at the trading price")
	testutil.RequireDecimalEqual(t, res.ProfitPaid, fpmath.Wad("996.499"), "profit net of fee")
	testutil.RequireDecimalEqual(t, res.Withdrawn, fpmath.WadInt(998), "collateral returned whole")
}

// ============================================================================
// Test: collateral paths
// ============================================================================

func TestDepositAndWithdrawAllCollateral(t *testing.T) {
	v := testutil.NewVenue(t)
	trader := uuid.New()
	id := sub(trader, true)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(500))

	bld := ledger.NewBuilder("deposit", 1, 1000)
	if err := v.Pool.DepositCollateral(bld, id, fpmath.WadInt(500)); err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	pos := v.Positions.Get(id)
	testutil.RequireDecimalEqual(t, pos.Collateral, fpmath.WadInt(500), "deposited collateral")

	bld = ledger.NewBuilder("withdraw", 2, 2000)
	amount, err := v.Pool.WithdrawAllCollateral(bld, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, amount, fpmath.WadInt(500), "withdrawn")
	testutil.RequireDecimalEqual(t, v.Balances.WalletBalance(trader, testutil.AssetUSDC), fpmath.WadInt(500), "wallet restored")
	if v.Positions.Get(id) != nil {
		t.Error("empty subaccount must be pruned")
	}
}

func TestWithdrawCollateral_KeepsMarginSafe(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := openLong(t, v, trader, 1000)

	// Withdrawing almost everything would break the margin requirement
	bld := ledger.NewBuilder("withdraw", 1, 2000)
	_, err := v.Pool.WithdrawCollateral(bld, id, fpmath.WadInt(990), testutil.Prices(fpmath.WadInt(2000)), testutil.AssetUSDC, false)
	if !errors.Is(err, pool.ErrUnsafePosition) {
		t.Fatalf("got %v, want ErrUnsafePosition", err)
	}

	bld = ledger.NewBuilder("withdraw", 2, 2000)
	got, err := v.Pool.WithdrawCollateral(bld, id, fpmath.WadInt(100), testutil.Prices(fpmath.WadInt(2000)), testutil.AssetUSDC, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, got, fpmath.WadInt(100), "principal withdrawal")
}

// ============================================================================
// Test: strict-stable pricing inside the pool
// ============================================================================

func TestOpen_StrictStableCollateralPinned(t *testing.T) {
	v := testutil.NewVenue(t)
	v.SeedLiquidity(t, testutil.AssetUSDC, fpmath.WadInt(1_000_000))
	trader := uuid.New()
	id := sub(trader, false)
	v.FundWallet(t, trader, testutil.AssetUSDC, fpmath.WadInt(1000))
	escrow(t, v, trader, testutil.AssetUSDC, fpmath.WadInt(1000))

	// Broker misreports the stable at 0.9 while the reference sits on-peg:
	// the dampener pins collateral pricing to 1.0, so the fee stays 2.
	prices := state.Prices{Collateral: fpmath.Wad("0.9"), Asset: fpmath.WadInt(2000), Profit: fpmath.One}
	bld := ledger.NewBuilder("fill", 1, 1000)
	res, err := v.Pool.OpenOrIncrease(bld, id, fpmath.WadInt(1000), fpmath.WadInt(1), fpmath.WadInt(2000), prices, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Balances.ApplyBatch(bld.Batch()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireDecimalEqual(t, res.Collateral, fpmath.WadInt(998), "collateral with pinned pricing")
}
