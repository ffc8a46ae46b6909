package model

import "errors"

// Domain errors. Callers wrap them with context and match with errors.Is.
var (
	ErrOutOfRange              = errors.New("bin out of range")
	ErrInsufficientLiquidity   = errors.New("insufficient liquidity")
	ErrSlippageExceeded        = errors.New("slippage exceeded")
	ErrInvalidFeeConfig        = errors.New("invalid fee config")
	ErrPoolNotActive           = errors.New("pool not active")
	ErrNonZeroLiquidityOnClose = errors.New("pool still holds liquidity")
	ErrConversionFailed        = errors.New("conversion failed")

	ErrPoolNotFound       = errors.New("pool not found")
	ErrInvalidPoolConfig  = errors.New("invalid pool config")
	ErrPoolExists         = errors.New("pool already exists")
	ErrPoolClosed         = errors.New("pool closed")
	ErrPoolPaused         = errors.New("pool paused")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInsufficientStake  = errors.New("insufficient stake")
	ErrBondNotMet         = errors.New("bond amount not met")
	ErrInvalidSplit       = errors.New("split bps must sum to 10000")
	ErrInvalidTierTable   = errors.New("invalid tier table")
	ErrReplayDiverged     = errors.New("journal replay diverged")
)
