// internal/pool/errors.go
package pool

import "errors"

// Economic rejections are expected and frequent; each aborts its operation
// with all ledger and position state untouched.
var (
	ErrZeroAmount             = errors.New("amount must be positive")
	ErrAssetDisabled          = errors.New("asset not enabled for this operation")
	ErrCollateralNotStable    = errors.New("collateral asset must be stable")
	ErrEmptyPosition          = errors.New("subaccount has no position")
	ErrUnsafePosition         = errors.New("position margin below initial margin rate")
	ErrMarginSafe             = errors.New("position margin above maintenance requirement")
	ErrInsufficientReserve    = errors.New("open interest exceeds reserved liquidity")
	ErrInsufficientLiquidity  = errors.New("pool liquidity cannot cover payout")
	ErrAdlNotAllowed          = errors.New("auto-deleverage trigger not reached")
	ErrProfitTooEarly         = errors.New("minimum profit condition not met")
	ErrPositionSizeCap        = errors.New("direction position size cap exceeded")
	ErrLiquidityCap           = errors.New("pool liquidity cap exceeded")
	ErrInsufficientCollateral = errors.New("collateral cannot cover fees")
)
