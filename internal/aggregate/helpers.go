package aggregate

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ratioScale     = 18
	secondsPerYear = int64(365 * 24 * time.Hour / time.Second)
)

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(int32(decimals))
}

func computeFeeRate(fee, tvl *big.Int) *string {
	if fee == nil || fee.Sign() == 0 || tvl == nil || tvl.Sign() == 0 {
		return nil
	}
	rate := decimal.NewFromBigInt(fee, 0).DivRound(decimal.NewFromBigInt(tvl, 0), ratioScale)
	s := rate.StringFixed(ratioScale)
	return &s
}

func computeAPR(feeRate *string, windowSeconds int64) *string {
	if feeRate == nil || windowSeconds <= 0 {
		return nil
	}
	rate, err := decimal.NewFromString(*feeRate)
	if err != nil {
		return nil
	}
	apr := rate.Mul(decimal.NewFromInt(secondsPerYear)).DivRound(decimal.NewFromInt(windowSeconds), ratioScale)
	s := apr.StringFixed(ratioScale)
	return &s
}
