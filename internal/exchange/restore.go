package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/position"
	"binExchange/internal/swap"
)

// Replayer feeds journaled events back into an Exchange to rebuild pools,
// ladders, positions, stakes and treasury balances after a restart. Pool
// mutations are executed again and must reproduce the recorded outcome.
// Nothing is emitted.
type Replayer struct {
	ex      *Exchange
	applied uint64
}

// Replayer returns a sink that restores e from its own journal.
func (e *Exchange) Replayer() *Replayer {
	return &Replayer{ex: e}
}

// Applied counts the events restored so far.
func (r *Replayer) Applied() uint64 { return r.applied }

func (r *Replayer) PutEventBatch(ctx context.Context, events []model.Event) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ex.restore(ev); err != nil {
			return fmt.Errorf("restore %s seq %d: %w", ev.Kind, ev.Seq, err)
		}
		r.applied++
		if ev.Source == r.ex.source {
			r.ex.advanceSeq(ev.Seq)
		}
	}
	return nil
}

func (e *Exchange) advanceSeq(seq uint64) {
	for cur := e.seq.Load(); seq > cur; cur = e.seq.Load() {
		if e.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (e *Exchange) restore(ev model.Event) error {
	switch ev.Kind {
	case model.EventPoolCreated:
		var data model.PoolCreatedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restorePool(ev, data)
	case model.EventPoolActivated:
		var data model.PoolActivatedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreLocked(data.Pool, func(st *poolState) error {
			next := st.pool.Clone()
			next.Status = model.PoolActive
			st.pool = next
			return nil
		})
	case model.EventPoolClosed:
		var data model.PoolClosedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreLocked(data.Pool, func(st *poolState) error {
			next := st.pool.Clone()
			next.Status = model.PoolClosed
			next.Paused = false
			next.BondAmount = 0
			st.pool = next
			return nil
		})
	case model.EventPoolPaused, model.EventPoolUnpaused:
		var data model.PoolPauseData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreLocked(data.Pool, func(st *poolState) error {
			next := st.pool.Clone()
			next.Paused = ev.Kind == model.EventPoolPaused
			st.pool = next
			return nil
		})
	case model.EventLiquidityAdded:
		var data model.LiquidityData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreLocked(data.Pool, func(st *poolState) error { return restoreDeposit(st, data) })
	case model.EventLiquidityRemoved:
		var data model.LiquidityData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreLocked(data.Pool, func(st *poolState) error { return restoreWithdraw(st, data) })
	case model.EventSwapExecuted:
		var rec model.SwapRecord
		if err := ev.Decode(&rec); err != nil {
			return err
		}
		return e.restoreLocked(rec.Pool, func(st *poolState) error { return e.restoreSwap(st, rec) })
	case model.EventFeeRecorded:
		// Accrued with its swap.
		return nil
	case model.EventHarvested:
		var rec model.BuybackRecord
		if err := ev.Decode(&rec); err != nil {
			return err
		}
		return e.treasury.Settle(rec)
	case model.EventStaked, model.EventUnstaked, model.EventRewardsClaimed:
		var data model.StakeData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return e.restoreStake(ev, data)
	default:
		e.logger.Warn("replay skipped unknown event", zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID.Hex()))
		return nil
	}
}

func (e *Exchange) restorePool(ev model.Event, data model.PoolCreatedData) error {
	l, err := ladder.New(ladder.Config{
		BasePrice:    data.BasePrice,
		BinStep:      data.BinStep,
		ActiveBinID:  data.ActiveBinID,
		MaxBinOffset: e.params.MaxBinOffset,
	})
	if err != nil {
		return fmt.Errorf("pool %s ladder: %w", data.Pool, err)
	}
	pool := model.Pool{
		ID:          data.Pool,
		BaseMint:    data.BaseMint,
		QuoteMint:   data.QuoteMint,
		Creator:     data.Creator,
		BinStep:     data.BinStep,
		BaseFeeBps:  data.BaseFeeBps,
		MinFeeBps:   data.MinFeeBps,
		MaxFeeBps:   data.MaxFeeBps,
		BondAmount:  data.BondAmount,
		Status:      model.PoolBonded,
		ActiveBinID: data.ActiveBinID,
		BasePrice:   l.BasePrice(),
		CreatedAt:   ev.Timestamp,
	}
	if data.Active {
		pool.Status = model.PoolActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[pool.ID]; ok {
		return fmt.Errorf("pool %s: %w", pool.ID, model.ErrPoolExists)
	}
	e.pools[pool.ID] = &poolState{pool: pool, ladder: l, positions: position.NewLedger()}
	return nil
}

func (e *Exchange) restoreLocked(id solana.PublicKey, fn func(*poolState) error) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(st)
}

func restoreDeposit(st *poolState, data model.LiquidityData) error {
	r := ladder.Range{Lower: data.LowerBinID, Upper: data.UpperBinID}
	nextLadder := st.ladder.Clone()
	deposits, err := nextLadder.DepositLiquidity(r, data.BaseAmount, data.QuoteAmount)
	if err != nil {
		return err
	}
	minted := make(model.BinShares, len(deposits))
	for _, d := range deposits {
		minted[d.BinID] = d.Shares
	}
	if !sameShares(minted, data.Shares) {
		return fmt.Errorf("deposit into %d:%d minted different shares: %w", r.Lower, r.Upper, model.ErrReplayDiverged)
	}
	key := model.PositionKey{Pool: data.Pool, Owner: data.Owner, LowerBinID: r.Lower, UpperBinID: r.Upper}
	nextPositions := st.positions.Clone()
	if err := nextPositions.Credit(key, minted); err != nil {
		return err
	}
	st.ladder = nextLadder
	st.positions = nextPositions
	return nil
}

func restoreWithdraw(st *poolState, data model.LiquidityData) error {
	key := model.PositionKey{Pool: data.Pool, Owner: data.Owner, LowerBinID: data.LowerBinID, UpperBinID: data.UpperBinID}
	nextPositions := st.positions.Clone()
	if err := nextPositions.Debit(key, data.Shares); err != nil {
		return err
	}
	nextLadder := st.ladder.Clone()
	base, quote, err := nextLadder.WithdrawLiquidity(data.Shares)
	if err != nil {
		return err
	}
	if base != data.BaseAmount || quote != data.QuoteAmount {
		return fmt.Errorf("withdraw redeemed %d/%d, journal has %d/%d: %w", base, quote, data.BaseAmount, data.QuoteAmount, model.ErrReplayDiverged)
	}
	st.ladder = nextLadder
	st.positions = nextPositions
	return nil
}

func (e *Exchange) restoreSwap(st *poolState, rec model.SwapRecord) error {
	d := ladder.BaseIn
	if rec.InMint.Equals(st.pool.QuoteMint) {
		d = ladder.QuoteIn
	}
	next, q, err := swap.Execute(st.ladder, swap.Request{
		Direction:        d,
		AmountIn:         rec.InAmount,
		FeeBps:           rec.FeeBps,
		ProtocolShareBps: e.params.ProtocolShareBps,
	}, 0)
	if err != nil {
		return err
	}
	if q.AmountOut != rec.OutAmount || q.ProtocolFee != rec.ProtocolFee {
		return fmt.Errorf("swap %s paid %d (protocol %d), journal has %d (protocol %d): %w",
			rec.EventID.Hex(), q.AmountOut, q.ProtocolFee, rec.OutAmount, rec.ProtocolFee, model.ErrReplayDiverged)
	}
	volume, fees, err := quoteFlows(q)
	if err != nil {
		return err
	}
	pool := st.pool.Clone()
	if pool.TotalVolume, err = fixedpoint.AddUint64(pool.TotalVolume, volume); err != nil {
		return fmt.Errorf("pool volume: %w", err)
	}
	if pool.TotalFees, err = fixedpoint.AddUint64(pool.TotalFees, fees); err != nil {
		return fmt.Errorf("pool fees: %w", err)
	}
	pool.ActiveBinID = next.ActiveBinID()
	if err := e.treasury.Accrue(rec.Pool, rec.InMint, q.ProtocolFee); err != nil {
		return err
	}
	st.ladder = next
	st.pool = pool
	return nil
}

// Staking events are journaled after their commit, so concurrent stakers
// may be recorded out of commit order. A claim that pays differently on
// replay is logged rather than failing the restore.
func (e *Exchange) restoreStake(ev model.Event, data model.StakeData) error {
	switch ev.Kind {
	case model.EventStaked:
		_, err := e.staking.Stake(data.Owner, data.Amount, ev.Timestamp)
		return err
	case model.EventUnstaked:
		_, err := e.staking.Unstake(data.Owner, data.Amount, ev.Timestamp)
		return err
	default:
		paid, err := e.staking.Claim(data.Owner, ev.Timestamp)
		if err != nil {
			return err
		}
		if paid != data.Amount {
			e.logger.Warn("replayed claim differs",
				zap.String("owner", data.Owner.String()),
				zap.Uint64("journal", data.Amount),
				zap.Uint64("replayed", paid),
			)
		}
		return nil
	}
}

func sameShares(a, b model.BinShares) bool {
	if len(a) != len(b) {
		return false
	}
	for id, v := range a {
		w, ok := b[id]
		if !ok || w == nil || !v.Eq(w) {
			return false
		}
	}
	return true
}
