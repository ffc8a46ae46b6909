package ladder

import (
	"fmt"

	"github.com/holiman/uint256"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// StepResult is the outcome of swapping against one bin.
type StepResult struct {
	BinID     int32
	AmountIn  uint64
	AmountOut uint64
	Exhausted bool
}

// ApplySwapStep trades amountIn against bin id at its fixed price. Input is
// capped at what clears the bin's output reserve; output rounds down.
func (l *Ladder) ApplySwapStep(id int32, amountIn uint64, d Direction) (StepResult, error) {
	res := StepResult{BinID: id}
	bin, ok := l.bins[id]
	if !ok {
		res.Exhausted = true
		return res, nil
	}
	reserveOut := bin.BaseReserve
	if d == BaseIn {
		reserveOut = bin.QuoteReserve
	}
	if reserveOut == 0 {
		res.Exhausted = true
		return res, nil
	}
	if amountIn == 0 {
		return res, nil
	}
	price, err := l.PriceAt(id)
	if err != nil {
		return res, err
	}

	maxIn, err := inputFor(reserveOut, price, d)
	if err != nil {
		return res, err
	}
	if maxIn.IsUint64() && amountIn >= maxIn.Uint64() {
		res.AmountIn = maxIn.Uint64()
		res.AmountOut = reserveOut
		res.Exhausted = true
	} else {
		out, err := outputFor(amountIn, price, d)
		if err != nil {
			return res, err
		}
		res.AmountIn = amountIn
		res.AmountOut = out
		if res.AmountOut >= reserveOut {
			res.AmountOut = reserveOut
			res.Exhausted = true
		}
	}

	next := bin
	if d == QuoteIn {
		if next.QuoteReserve, err = fixedpoint.AddUint64(bin.QuoteReserve, res.AmountIn); err != nil {
			return StepResult{BinID: id}, fmt.Errorf("bin %d quote reserve: %w", id, err)
		}
		next.BaseReserve = bin.BaseReserve - res.AmountOut
	} else {
		if next.BaseReserve, err = fixedpoint.AddUint64(bin.BaseReserve, res.AmountIn); err != nil {
			return StepResult{BinID: id}, fmt.Errorf("bin %d base reserve: %w", id, err)
		}
		next.QuoteReserve = bin.QuoteReserve - res.AmountOut
	}
	l.put(next)
	return res, nil
}

// inputFor is the input that buys all of reserveOut, rounded up.
func inputFor(reserveOut uint64, price *uint256.Int, d Direction) (*uint256.Int, error) {
	if d == QuoteIn {
		return fixedpoint.QuoteValue(reserveOut, price, fixedpoint.RoundUp)
	}
	return fixedpoint.BaseValue(reserveOut, price, fixedpoint.RoundUp)
}

// outputFor converts amountIn at price, rounded down.
func outputFor(amountIn uint64, price *uint256.Int, d Direction) (uint64, error) {
	var (
		out *uint256.Int
		err error
	)
	if d == QuoteIn {
		out, err = fixedpoint.BaseValue(amountIn, price, fixedpoint.RoundDown)
	} else {
		out, err = fixedpoint.QuoteValue(amountIn, price, fixedpoint.RoundDown)
	}
	if err != nil {
		return 0, err
	}
	if !out.IsUint64() {
		return ^uint64(0), nil
	}
	return out.Uint64(), nil
}

// CreditFee adds an LP fee to the reserve of an existing bin.
func (l *Ladder) CreditFee(id int32, token Token, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bin, ok := l.bins[id]
	if !ok {
		return fmt.Errorf("credit fee to empty bin %d: %w", id, model.ErrOutOfRange)
	}
	var err error
	if token == Base {
		bin.BaseReserve, err = fixedpoint.AddUint64(bin.BaseReserve, amount)
	} else {
		bin.QuoteReserve, err = fixedpoint.AddUint64(bin.QuoteReserve, amount)
	}
	if err != nil {
		return fmt.Errorf("credit fee bin %d: %w", id, err)
	}
	l.put(bin)
	return nil
}
