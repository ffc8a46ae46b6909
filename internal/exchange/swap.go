package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/swap"
)

// SwapRequest is a trader order against one pool. With AmountIn zero and
// MaxAmountIn set, the input is the smallest one reaching MinAmountOut on the
// pool as it stands when the swap runs.
type SwapRequest struct {
	Pool         solana.PublicKey `json:"pool"`
	Trader       solana.PublicKey `json:"trader"`
	Direction    ladder.Direction `json:"direction"`
	AmountIn     uint64           `json:"amount_in,string"`
	MinAmountOut uint64           `json:"min_amount_out,string"`
	MaxAmountIn  uint64           `json:"max_amount_in,string,omitempty"`
}

// resolveAmountIn applies the MaxAmountIn bound against l. It must run
// under the pool lock.
func (e *Exchange) resolveAmountIn(l *ladder.Ladder, req SwapRequest, feeBps uint32) (uint64, error) {
	amountIn := req.AmountIn
	if amountIn == 0 && req.MaxAmountIn > 0 {
		need, _, err := swap.MaxAmountIn(l, req.Direction, req.MinAmountOut, feeBps, e.params.ProtocolShareBps)
		if err != nil {
			return 0, err
		}
		amountIn = need
	}
	if req.MaxAmountIn > 0 && amountIn > req.MaxAmountIn {
		return 0, fmt.Errorf("input %d above maximum %d: %w", amountIn, req.MaxAmountIn, model.ErrSlippageExceeded)
	}
	return amountIn, nil
}

// feeFor resolves the fee a trader pays on the pool, after the tier discount.
func (e *Exchange) feeFor(p model.Pool, trader solana.PublicKey) uint32 {
	var discount uint32
	if !trader.IsZero() {
		discount = e.staking.DiscountBps(trader)
	}
	return swap.EffectiveFeeBps(p.BaseFeeBps, discount, p.MinFeeBps)
}

// mintsFor returns the input and output mints of a direction.
func mintsFor(p model.Pool, d ladder.Direction) (in, out solana.PublicKey) {
	if d == ladder.QuoteIn {
		return p.QuoteMint, p.BaseMint
	}
	return p.BaseMint, p.QuoteMint
}

// Quote prices a swap at the pool's base fee.
func (e *Exchange) Quote(id solana.PublicKey, d ladder.Direction, amountIn uint64) (swap.Quote, error) {
	return e.QuoteForTrader(id, solana.PublicKey{}, d, amountIn)
}

// QuoteForTrader prices a swap at the fee the trader would pay.
func (e *Exchange) QuoteForTrader(id, trader solana.PublicKey, d ladder.Direction, amountIn uint64) (swap.Quote, error) {
	st, err := e.state(id)
	if err != nil {
		return swap.Quote{}, err
	}
	st.mu.RLock()
	if err := requireActive(st); err != nil {
		st.mu.RUnlock()
		return swap.Quote{}, err
	}
	p, l := st.pool, st.ladder
	st.mu.RUnlock()

	return swap.QuoteSwap(l, swap.Request{
		Direction:        d,
		AmountIn:         amountIn,
		FeeBps:           e.feeFor(p, trader),
		ProtocolShareBps: e.params.ProtocolShareBps,
	})
}

// MaxAmountIn finds the smallest input that yields at least targetOut.
func (e *Exchange) MaxAmountIn(id, trader solana.PublicKey, d ladder.Direction, targetOut uint64) (uint64, swap.Quote, error) {
	st, err := e.state(id)
	if err != nil {
		return 0, swap.Quote{}, err
	}
	st.mu.RLock()
	if err := requireActive(st); err != nil {
		st.mu.RUnlock()
		return 0, swap.Quote{}, err
	}
	p, l := st.pool, st.ladder
	st.mu.RUnlock()
	return swap.MaxAmountIn(l, d, targetOut, e.feeFor(p, trader), e.params.ProtocolShareBps)
}

// Swap executes an order. The protocol fee is posted to the treasury before
// the events are appended and taken back if the append fails.
func (e *Exchange) Swap(ctx context.Context, req SwapRequest) (model.SwapRecord, swap.Quote, error) {
	st, err := e.state(req.Pool)
	if err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := requireActive(st); err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}

	feeBps := e.feeFor(st.pool, req.Trader)
	amountIn, err := e.resolveAmountIn(st.ladder, req, feeBps)
	if err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}
	next, q, err := swap.Execute(st.ladder, swap.Request{
		Direction:        req.Direction,
		AmountIn:         amountIn,
		FeeBps:           feeBps,
		ProtocolShareBps: e.params.ProtocolShareBps,
	}, req.MinAmountOut)
	if err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}

	volume, fees, err := quoteFlows(q)
	if err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}
	pool := st.pool.Clone()
	if pool.TotalVolume, err = fixedpoint.AddUint64(pool.TotalVolume, volume); err != nil {
		return model.SwapRecord{}, swap.Quote{}, fmt.Errorf("pool volume: %w", err)
	}
	if pool.TotalFees, err = fixedpoint.AddUint64(pool.TotalFees, fees); err != nil {
		return model.SwapRecord{}, swap.Quote{}, fmt.Errorf("pool fees: %w", err)
	}
	pool.ActiveBinID = next.ActiveBinID()

	inMint, outMint := mintsFor(st.pool, req.Direction)
	ts := e.now().Unix()
	seq := e.seq.Add(1)
	rec := model.SwapRecord{
		EventID:        model.NewEventID(e.source, seq),
		Pool:           req.Pool,
		Trader:         req.Trader,
		InMint:         inMint,
		InAmount:       q.AmountIn,
		OutMint:        outMint,
		OutAmount:      q.AmountOut,
		FeeBps:         q.FeeBps,
		LPFee:          q.LPFee,
		ProtocolFee:    q.ProtocolFee,
		BinsCrossed:    q.BinsCrossed,
		PriceImpactBps: q.PriceImpactBps,
		StartBinID:     q.StartBinID,
		EndBinID:       q.EndBinID,
		Timestamp:      ts,
	}
	swapEv, err := model.NewEvent(e.source, seq, model.EventSwapExecuted, req.Pool, ts, rec)
	if err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}
	events := []model.Event{swapEv}
	if q.ProtocolFee > 0 {
		feeSeq := e.seq.Add(1)
		feeEv, err := model.NewEvent(e.source, feeSeq, model.EventFeeRecorded, req.Pool, ts, model.FeeRecord{
			EventID:   model.NewEventID(e.source, feeSeq),
			Pool:      req.Pool,
			Mint:      inMint,
			Amount:    q.ProtocolFee,
			Timestamp: ts,
		})
		if err != nil {
			return model.SwapRecord{}, swap.Quote{}, err
		}
		events = append(events, feeEv)
	}

	if err := e.treasury.Accrue(req.Pool, inMint, q.ProtocolFee); err != nil {
		return model.SwapRecord{}, swap.Quote{}, err
	}
	if err := e.emit(ctx, events...); err != nil {
		if rerr := e.treasury.Reverse(req.Pool, inMint, q.ProtocolFee); rerr != nil {
			e.logger.Error("reverse protocol fee", zap.String("pool", req.Pool.String()), zap.Uint64("amount", q.ProtocolFee), zap.Error(rerr))
		}
		return model.SwapRecord{}, swap.Quote{}, err
	}
	st.ladder = next
	st.pool = pool

	e.logger.Debug("swap executed",
		zap.String("pool", req.Pool.String()),
		zap.String("trader", req.Trader.String()),
		zap.String("direction", req.Direction.String()),
		zap.Uint64("amount_in", q.AmountIn),
		zap.Uint64("amount_out", q.AmountOut),
		zap.Uint32("bins_crossed", q.BinsCrossed),
	)
	return rec, q, nil
}

// quoteFlows values a swap's volume and fee in quote units. Base-in fees are
// valued at the swap's average rate.
func quoteFlows(q swap.Quote) (volume, fee uint64, err error) {
	if q.Direction == ladder.QuoteIn {
		return q.AmountIn, q.Fee, nil
	}
	fee, err = fixedpoint.MulDivUint64(q.Fee, q.AmountOut, q.NetAmountIn, fixedpoint.RoundDown)
	if err != nil {
		return 0, 0, fmt.Errorf("fee value: %w", err)
	}
	return q.AmountOut, fee, nil
}
