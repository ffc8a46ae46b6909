package swap

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
)

// Request describes a single-pool swap.
type Request struct {
	Direction        ladder.Direction
	AmountIn         uint64
	FeeBps           uint32
	ProtocolShareBps uint32
}

// Quote is the full outcome of a swap against a ladder snapshot.
type Quote struct {
	Direction      ladder.Direction    `json:"-"`
	AmountIn       uint64              `json:"amount_in,string"`
	NetAmountIn    uint64              `json:"net_amount_in,string"`
	AmountOut      uint64              `json:"amount_out,string"`
	FeeBps         uint32              `json:"fee_bps"`
	Fee            uint64              `json:"fee,string"`
	LPFee          uint64              `json:"lp_fee,string"`
	ProtocolFee    uint64              `json:"protocol_fee,string"`
	PriceImpactBps uint32              `json:"price_impact_bps"`
	BinsCrossed    uint32              `json:"bins_crossed"`
	StartBinID     int32               `json:"start_bin_id"`
	EndBinID       int32               `json:"end_bin_id"`
	Steps          []ladder.StepResult `json:"-"`
}

// EffectiveFeeBps applies a tier discount to the base fee without going
// below the floor.
func EffectiveFeeBps(baseFeeBps, discountBps, minFeeBps uint32) uint32 {
	fee := uint32(0)
	if discountBps < baseFeeBps {
		fee = baseFeeBps - discountBps
	}
	return max(fee, minFeeBps)
}

// SplitFee divides a fee between the protocol and liquidity providers.
func SplitFee(fee uint64, protocolShareBps uint32) (lpFee, protocolFee uint64, err error) {
	protocolFee, err = fixedpoint.ApplyBps(fee, protocolShareBps, fixedpoint.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	return fee - protocolFee, protocolFee, nil
}

// Simulate runs req against a clone of l and returns the resulting ladder.
// l is never modified.
func Simulate(l *ladder.Ladder, req Request) (*ladder.Ladder, Quote, error) {
	if req.AmountIn == 0 {
		return nil, Quote{}, fmt.Errorf("zero amount in: %w", model.ErrInvalidAmount)
	}
	if req.FeeBps >= fixedpoint.BasisPointMax {
		return nil, Quote{}, fmt.Errorf("fee %d bps: %w", req.FeeBps, model.ErrInvalidFeeConfig)
	}
	fee, err := fixedpoint.ApplyBps(req.AmountIn, req.FeeBps, fixedpoint.RoundUp)
	if err != nil {
		return nil, Quote{}, err
	}
	if fee >= req.AmountIn {
		return nil, Quote{}, fmt.Errorf("amount %d consumed by fee: %w", req.AmountIn, model.ErrInvalidAmount)
	}
	lpFee, protocolFee, err := SplitFee(fee, req.ProtocolShareBps)
	if err != nil {
		return nil, Quote{}, err
	}

	q := Quote{
		Direction:   req.Direction,
		AmountIn:    req.AmountIn,
		NetAmountIn: req.AmountIn - fee,
		FeeBps:      req.FeeBps,
		Fee:         fee,
		LPFee:       lpFee,
		ProtocolFee: protocolFee,
		StartBinID:  l.ActiveBinID(),
	}

	next := l.Clone()
	remaining := q.NetAmountIn
	cursor := q.StartBinID
	for remaining > 0 {
		id, ok := next.NextLiquidBin(cursor, req.Direction)
		if !ok {
			return nil, Quote{}, fmt.Errorf("%d of %d unfilled past bin %d: %w", remaining, q.NetAmountIn, cursor, model.ErrInsufficientLiquidity)
		}
		step, err := next.ApplySwapStep(id, remaining, req.Direction)
		if err != nil {
			return nil, Quote{}, err
		}
		q.Steps = append(q.Steps, step)
		remaining -= step.AmountIn
		if q.AmountOut, err = fixedpoint.AddUint64(q.AmountOut, step.AmountOut); err != nil {
			return nil, Quote{}, err
		}
		cursor = id + req.Direction.Step()
	}
	if q.AmountOut == 0 {
		return nil, Quote{}, fmt.Errorf("swap of %d yields nothing: %w", req.AmountIn, model.ErrInvalidAmount)
	}

	q.EndBinID = q.Steps[len(q.Steps)-1].BinID
	if err := next.SetActiveBin(q.EndBinID); err != nil {
		return nil, Quote{}, err
	}
	q.BinsCrossed = uint32(abs64(int64(q.EndBinID) - int64(q.StartBinID)))

	if err := creditLPFee(next, q); err != nil {
		return nil, Quote{}, err
	}
	if q.PriceImpactBps, err = priceImpact(l, q); err != nil {
		return nil, Quote{}, err
	}
	return next, q, nil
}

// QuoteSwap prices req without side effects.
func QuoteSwap(l *ladder.Ladder, req Request) (Quote, error) {
	_, q, err := Simulate(l, req)
	return q, err
}

// Execute simulates req and rejects the result when output is below minAmountOut.
func Execute(l *ladder.Ladder, req Request, minAmountOut uint64) (*ladder.Ladder, Quote, error) {
	next, q, err := Simulate(l, req)
	if err != nil {
		return nil, Quote{}, err
	}
	if q.AmountOut < minAmountOut {
		return nil, Quote{}, fmt.Errorf("out %d below minimum %d: %w", q.AmountOut, minAmountOut, model.ErrSlippageExceeded)
	}
	return next, q, nil
}

// MaxAmountIn finds the smallest input whose output reaches targetOut.
func MaxAmountIn(l *ladder.Ladder, d ladder.Direction, targetOut uint64, feeBps, protocolShareBps uint32) (uint64, Quote, error) {
	if targetOut == 0 {
		return 0, Quote{}, fmt.Errorf("zero target out: %w", model.ErrInvalidAmount)
	}
	available, err := availableOut(l, d)
	if err != nil {
		return 0, Quote{}, err
	}
	if available < targetOut {
		return 0, Quote{}, fmt.Errorf("target %d above available %d: %w", targetOut, available, model.ErrInsufficientLiquidity)
	}

	// reached is monotonic in amountIn: running out of liquidity counts as
	// having reached the target.
	reached := func(amountIn uint64) (bool, Quote, error) {
		q, err := QuoteSwap(l, Request{Direction: d, AmountIn: amountIn, FeeBps: feeBps, ProtocolShareBps: protocolShareBps})
		switch {
		case errors.Is(err, model.ErrInsufficientLiquidity):
			return true, Quote{}, nil
		case errors.Is(err, model.ErrInvalidAmount):
			return false, Quote{}, nil
		case err != nil:
			return false, Quote{}, err
		}
		return q.AmountOut >= targetOut, q, nil
	}

	lo, hi := uint64(1), uint64(math.MaxUint64)
	var best Quote
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, q, err := reached(mid)
		if err != nil {
			return 0, Quote{}, err
		}
		if ok {
			hi = mid
			best = q
		} else {
			lo = mid + 1
		}
	}
	if best.AmountIn != lo {
		_, q, err := reached(lo)
		if err != nil {
			return 0, Quote{}, err
		}
		best = q
	}
	if best.AmountOut < targetOut {
		return 0, Quote{}, fmt.Errorf("target %d unreachable: %w", targetOut, model.ErrInsufficientLiquidity)
	}
	return lo, best, nil
}

func availableOut(l *ladder.Ladder, d ladder.Direction) (uint64, error) {
	var total uint64
	cursor := l.ActiveBinID()
	for {
		id, ok := l.NextLiquidBin(cursor, d)
		if !ok {
			return total, nil
		}
		bin := l.ReserveAt(id)
		reserve := bin.BaseReserve
		if d == ladder.BaseIn {
			reserve = bin.QuoteReserve
		}
		var err error
		if total, err = fixedpoint.AddUint64(total, reserve); err != nil {
			return 0, err
		}
		cursor = id + d.Step()
	}
}

// creditLPFee credits the LP fee to the crossed bins pro-rata by the input
// each absorbed. The last bin takes the rounding remainder.
func creditLPFee(l *ladder.Ladder, q Quote) error {
	if q.LPFee == 0 {
		return nil
	}
	token := q.Direction.InputToken()
	left := q.LPFee
	last := len(q.Steps) - 1
	for last > 0 && q.Steps[last].AmountIn == 0 {
		last--
	}
	for i, step := range q.Steps[:last] {
		if step.AmountIn == 0 {
			continue
		}
		part, err := fixedpoint.MulDivUint64(q.LPFee, step.AmountIn, q.NetAmountIn, fixedpoint.RoundDown)
		if err != nil {
			return fmt.Errorf("lp fee share step %d: %w", i, err)
		}
		if err := l.CreditFee(step.BinID, token, part); err != nil {
			return err
		}
		left -= part
	}
	return l.CreditFee(q.Steps[last].BinID, token, left)
}

// priceImpact compares the average execution rate against the rate of the
// first bin filled, in bps of the latter.
func priceImpact(l *ladder.Ladder, q Quote) (uint32, error) {
	price, err := l.PriceAt(q.Steps[0].BinID)
	if err != nil {
		return 0, err
	}
	out := uint256.NewInt(q.AmountOut)
	net := uint256.NewInt(q.NetAmountIn)
	bps := uint256.NewInt(fixedpoint.BasisPointMax)

	var num, den *uint256.Int
	if q.Direction == ladder.QuoteIn {
		// (out / net) / (1 / price)
		num = new(uint256.Int).Mul(out, price)
		den = new(uint256.Int).Lsh(net, fixedpoint.ScaleOffset)
	} else {
		// (out / net) / price
		num = new(uint256.Int).Lsh(out, fixedpoint.ScaleOffset)
		den = new(uint256.Int).Mul(net, price)
	}
	ratio, err := fixedpoint.MulDiv(num, bps, den, fixedpoint.RoundUp)
	if err != nil {
		return 0, err
	}
	if ratio.Gt(bps) {
		return 0, nil
	}
	return uint32(fixedpoint.BasisPointMax - ratio.Uint64()), nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
