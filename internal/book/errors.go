// internal/book/errors.go
package book

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found or inactive")
	ErrUnauthorized  = errors.New("caller is neither owner nor broker")
	ErrCoolingDown   = errors.New("cancel cool-down has not elapsed")
	ErrTooEarly      = errors.New("order timeout has not elapsed")
	ErrLocked        = errors.New("liquidity lock period has not elapsed")
	ErrOrderExpired  = errors.New("order deadline has passed")
	ErrPriceNotMet   = errors.New("fill price does not satisfy the order")
	ErrInvalidPrice  = errors.New("trading price must be positive")
	ErrBadFlags      = errors.New("invalid position order flag combination")
	ErrLotSize       = errors.New("size is not a multiple of the lot size")
	ErrZeroAmount    = errors.New("amount must be positive")
	ErrBadDeadline   = errors.New("order deadline out of range")
)
