package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/ladder"
	"binExchange/internal/model"
)

// AddLiquidityRequest deposits into a bin range.
type AddLiquidityRequest struct {
	Pool        solana.PublicKey `json:"pool"`
	Owner       solana.PublicKey `json:"owner"`
	Range       ladder.Range     `json:"range"`
	BaseAmount  uint64           `json:"base_amount,string"`
	QuoteAmount uint64           `json:"quote_amount,string"`
}

// RemoveLiquidityRequest withdraws either explicit per-bin shares or a bps
// fraction of every bin of the position.
type RemoveLiquidityRequest struct {
	Pool   solana.PublicKey `json:"pool"`
	Owner  solana.PublicKey `json:"owner"`
	Range  ladder.Range     `json:"range"`
	Shares model.BinShares  `json:"shares,omitempty"`
	Bps    uint32           `json:"bps,omitempty"`
}

// LiquidityResult reports the amounts moved and the resulting position.
type LiquidityResult struct {
	BaseAmount  uint64                  `json:"base_amount,string"`
	QuoteAmount uint64                  `json:"quote_amount,string"`
	Shares      model.BinShares         `json:"shares"`
	Position    model.LiquidityPosition `json:"position"`
	EventID     string                  `json:"event_id"`
}

// AddLiquidity deposits into the ladder and credits the position in one commit.
func (e *Exchange) AddLiquidity(ctx context.Context, req AddLiquidityRequest) (LiquidityResult, error) {
	st, err := e.state(req.Pool)
	if err != nil {
		return LiquidityResult{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := requireActive(st); err != nil {
		return LiquidityResult{}, err
	}

	nextLadder := st.ladder.Clone()
	deposits, err := nextLadder.DepositLiquidity(req.Range, req.BaseAmount, req.QuoteAmount)
	if err != nil {
		return LiquidityResult{}, err
	}
	minted := make(model.BinShares, len(deposits))
	for _, d := range deposits {
		minted[d.BinID] = d.Shares
	}
	key := model.PositionKey{Pool: req.Pool, Owner: req.Owner, LowerBinID: req.Range.Lower, UpperBinID: req.Range.Upper}
	nextPositions := st.positions.Clone()
	if err := nextPositions.Credit(key, minted); err != nil {
		return LiquidityResult{}, err
	}

	ev, err := e.newEvent(model.EventLiquidityAdded, req.Pool, e.now().Unix(), model.LiquidityData{
		Pool:        req.Pool,
		Owner:       req.Owner,
		LowerBinID:  req.Range.Lower,
		UpperBinID:  req.Range.Upper,
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		Shares:      minted,
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return LiquidityResult{}, err
	}
	st.ladder = nextLadder
	st.positions = nextPositions

	pos, _ := nextPositions.Get(key)
	e.logger.Debug("liquidity added",
		zap.String("pool", req.Pool.String()),
		zap.String("owner", req.Owner.String()),
		zap.Int32("lower", req.Range.Lower),
		zap.Int32("upper", req.Range.Upper),
		zap.Uint64("base", req.BaseAmount),
		zap.Uint64("quote", req.QuoteAmount),
	)
	return LiquidityResult{
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		Shares:      minted,
		Position:    pos,
		EventID:     ev.ID.Hex(),
	}, nil
}

// RemoveLiquidity burns position shares and returns the redeemed reserves.
func (e *Exchange) RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (LiquidityResult, error) {
	st, err := e.state(req.Pool)
	if err != nil {
		return LiquidityResult{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := requireActive(st); err != nil {
		return LiquidityResult{}, err
	}

	key := model.PositionKey{Pool: req.Pool, Owner: req.Owner, LowerBinID: req.Range.Lower, UpperBinID: req.Range.Upper}
	shares := req.Shares
	switch {
	case req.Bps > 0 && len(req.Shares) > 0:
		return LiquidityResult{}, fmt.Errorf("give shares or bps, not both: %w", model.ErrInvalidAmount)
	case req.Bps > 0:
		if shares, err = st.positions.SharesForBps(key, req.Bps); err != nil {
			return LiquidityResult{}, err
		}
	case len(req.Shares) == 0:
		return LiquidityResult{}, fmt.Errorf("nothing to withdraw: %w", model.ErrInvalidAmount)
	}

	nextPositions := st.positions.Clone()
	if err := nextPositions.Debit(key, shares); err != nil {
		return LiquidityResult{}, err
	}
	nextLadder := st.ladder.Clone()
	base, quote, err := nextLadder.WithdrawLiquidity(shares)
	if err != nil {
		return LiquidityResult{}, err
	}

	ev, err := e.newEvent(model.EventLiquidityRemoved, req.Pool, e.now().Unix(), model.LiquidityData{
		Pool:        req.Pool,
		Owner:       req.Owner,
		LowerBinID:  req.Range.Lower,
		UpperBinID:  req.Range.Upper,
		BaseAmount:  base,
		QuoteAmount: quote,
		Shares:      shares,
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return LiquidityResult{}, err
	}
	st.ladder = nextLadder
	st.positions = nextPositions

	pos, ok := nextPositions.Get(key)
	if !ok {
		pos = model.LiquidityPosition{Key: key, Shares: model.BinShares{}}
	}
	e.logger.Debug("liquidity removed",
		zap.String("pool", req.Pool.String()),
		zap.String("owner", req.Owner.String()),
		zap.Uint64("base", base),
		zap.Uint64("quote", quote),
	)
	return LiquidityResult{
		BaseAmount:  base,
		QuoteAmount: quote,
		Shares:      shares,
		Position:    pos,
		EventID:     ev.ID.Hex(),
	}, nil
}
