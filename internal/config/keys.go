// internal/config/keys.go
package config

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key is a fixed-width configuration identifier derived from a one-way hash
// of a human-readable name. The key set is closed: every addressable
// parameter is computed once below, never from dynamic strings at runtime.
type Key [32]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyOf hashes a parameter name into its fixed-width key.
func KeyOf(name string) Key {
	return Key(sha256.Sum256([]byte(name)))
}

// Pool-level parameters.
var (
	KeyFundingInterval       = KeyOf("FUNDING_INTERVAL")
	KeyBorrowingRateAPY      = KeyOf("BORROWING_RATE_APY")
	KeyLiquidityFeeRate      = KeyOf("LIQUIDITY_FEE_RATE")
	KeyStrictStableDeviation = KeyOf("STRICT_STABLE_DEVIATION")
	KeyLiquidityCapUSD       = KeyOf("LIQUIDITY_CAP_USD")
)

// Per-asset parameters.
var (
	KeyLotSize               = KeyOf("LOT_SIZE")
	KeyInitialMarginRate     = KeyOf("INITIAL_MARGIN_RATE")
	KeyMaintenanceMarginRate = KeyOf("MAINTENANCE_MARGIN_RATE")
	KeyMinProfitRate         = KeyOf("MIN_PROFIT_RATE")
	KeyMinProfitTime         = KeyOf("MIN_PROFIT_TIME")
	KeyPositionFeeRate       = KeyOf("POSITION_FEE_RATE")
	KeyLiquidationFeeRate    = KeyOf("LIQUIDATION_FEE_RATE")
	KeyReferenceOracle       = KeyOf("REFERENCE_ORACLE")
	KeyReferenceDeviation    = KeyOf("REFERENCE_DEVIATION")
	KeyMaxLongPositionSize   = KeyOf("MAX_LONG_POSITION_SIZE")
	KeyMaxShortPositionSize  = KeyOf("MAX_SHORT_POSITION_SIZE")
	KeyFundingAlpha          = KeyOf("FUNDING_ALPHA")
	KeyFundingBetaAPY        = KeyOf("FUNDING_BETA_APY")
	KeyAdlReserveRate        = KeyOf("ADL_RESERVE_RATE")
	KeyAdlMaxPnlRate         = KeyOf("ADL_MAX_PNL_RATE")
	KeyAdlTriggerRate        = KeyOf("ADL_TRIGGER_RATE")
)

// Order-book parameters.
var (
	KeyLiquidityLockPeriod = KeyOf("OB_LIQUIDITY_LOCK_PERIOD")
	KeyMarketOrderTimeout  = KeyOf("OB_MARKET_ORDER_TIMEOUT")
	KeyLimitOrderTimeout   = KeyOf("OB_LIMIT_ORDER_TIMEOUT")
	KeyCancelCoolDown      = KeyOf("OB_CANCEL_COOL_DOWN")
	KeyReferralManager     = KeyOf("OB_REFERRAL_MANAGER")
)
