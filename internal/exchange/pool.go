package exchange

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/position"
)

// DerivePoolAddress returns the program-derived address of a pair.
func DerivePoolAddress(programID, baseMint, quoteMint solana.PublicKey, binStep uint16) (solana.PublicKey, error) {
	step := make([]byte, 2)
	binary.LittleEndian.PutUint16(step, binStep)
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("pool"),
			baseMint.Bytes(),
			quoteMint.Bytes(),
			step,
		},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pool address: %w", err)
	}
	return pda, nil
}

// CreatePoolRequest describes a new pair.
type CreatePoolRequest struct {
	Creator     solana.PublicKey `json:"creator"`
	BaseMint    solana.PublicKey `json:"base_mint"`
	QuoteMint   solana.PublicKey `json:"quote_mint"`
	BinStep     uint16           `json:"bin_step"`
	BaseFeeBps  uint32           `json:"base_fee_bps"`
	BasePrice   *uint256.Int     `json:"base_price"`
	ActiveBinID int32            `json:"active_bin_id"`
}

// CreatePool registers a pool in the Bonded state.
func (e *Exchange) CreatePool(ctx context.Context, req CreatePoolRequest) (model.Pool, error) {
	if req.BaseFeeBps < e.params.MinFeeBps || req.BaseFeeBps > e.params.MaxFeeBps {
		return model.Pool{}, fmt.Errorf("base fee %d outside %d..%d: %w", req.BaseFeeBps, e.params.MinFeeBps, e.params.MaxFeeBps, model.ErrInvalidFeeConfig)
	}
	if req.BinStep < e.params.MinBinStep || req.BinStep > e.params.MaxBinStep {
		return model.Pool{}, fmt.Errorf("bin step %d outside %d..%d: %w", req.BinStep, e.params.MinBinStep, e.params.MaxBinStep, model.ErrInvalidPoolConfig)
	}
	if req.BaseMint.Equals(req.QuoteMint) || req.BaseMint.IsZero() || req.QuoteMint.IsZero() {
		return model.Pool{}, fmt.Errorf("mints %s/%s: %w", req.BaseMint, req.QuoteMint, model.ErrInvalidPoolConfig)
	}
	if req.BasePrice == nil || req.BasePrice.IsZero() {
		return model.Pool{}, fmt.Errorf("base price is required: %w", model.ErrInvalidPoolConfig)
	}
	l, err := ladder.New(ladder.Config{
		BasePrice:    req.BasePrice,
		BinStep:      req.BinStep,
		ActiveBinID:  req.ActiveBinID,
		MaxBinOffset: e.params.MaxBinOffset,
	})
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool ladder: %w", err)
	}
	id, err := DerivePoolAddress(e.params.ProgramID, req.BaseMint, req.QuoteMint, req.BinStep)
	if err != nil {
		return model.Pool{}, err
	}

	ts := e.now().Unix()
	pool := model.Pool{
		ID:          id,
		BaseMint:    req.BaseMint,
		QuoteMint:   req.QuoteMint,
		Creator:     req.Creator,
		BinStep:     req.BinStep,
		BaseFeeBps:  req.BaseFeeBps,
		MinFeeBps:   e.params.MinFeeBps,
		MaxFeeBps:   e.params.MaxFeeBps,
		BondAmount:  e.params.BondAmount,
		Status:      model.PoolBonded,
		ActiveBinID: req.ActiveBinID,
		BasePrice:   l.BasePrice(),
		CreatedAt:   ts,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[id]; ok {
		return model.Pool{}, fmt.Errorf("pool %s: %w", id, model.ErrPoolExists)
	}
	ev, err := e.newEvent(model.EventPoolCreated, id, ts, model.PoolCreatedData{
		Pool:        id,
		Creator:     pool.Creator,
		BaseMint:    pool.BaseMint,
		QuoteMint:   pool.QuoteMint,
		BaseFeeBps:  pool.BaseFeeBps,
		MinFeeBps:   pool.MinFeeBps,
		MaxFeeBps:   pool.MaxFeeBps,
		BinStep:     pool.BinStep,
		BondAmount:  pool.BondAmount,
		ActiveBinID: pool.ActiveBinID,
		BasePrice:   pool.BasePrice,
	})
	if err != nil {
		return model.Pool{}, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return model.Pool{}, err
	}
	e.pools[id] = &poolState{pool: pool, ladder: l, positions: position.NewLedger()}
	e.logger.Info("pool created",
		zap.String("pool", id.String()),
		zap.String("creator", req.Creator.String()),
		zap.Uint16("bin_step", req.BinStep),
		zap.Uint32("base_fee_bps", req.BaseFeeBps),
	)
	return pool.Clone(), nil
}

// ConfirmBond activates a bonded pool once the escrowed amount covers the
// bond recorded at creation.
func (e *Exchange) ConfirmBond(ctx context.Context, id solana.PublicKey, escrowed uint64) (model.Pool, error) {
	st, err := e.state(id)
	if err != nil {
		return model.Pool{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.pool.Status {
	case model.PoolBonded:
	case model.PoolClosed:
		return model.Pool{}, fmt.Errorf("pool %s: %w", id, model.ErrPoolClosed)
	default:
		return model.Pool{}, fmt.Errorf("pool %s already %s: %w", id, st.pool.Status, model.ErrInvalidPoolConfig)
	}
	if escrowed < st.pool.BondAmount {
		return model.Pool{}, fmt.Errorf("escrowed %d below bond %d: %w", escrowed, st.pool.BondAmount, model.ErrBondNotMet)
	}
	ev, err := e.newEvent(model.EventPoolActivated, id, e.now().Unix(), model.PoolActivatedData{Pool: id, EscrowedAmount: escrowed})
	if err != nil {
		return model.Pool{}, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return model.Pool{}, err
	}
	next := st.pool.Clone()
	next.Status = model.PoolActive
	st.pool = next
	e.logger.Info("pool activated", zap.String("pool", id.String()), zap.Uint64("escrowed", escrowed), zap.Uint64("bond", next.BondAmount))
	return next.Clone(), nil
}

// ClosePool closes an empty active pool on behalf of its creator and returns
// the bond. Paused pools may close. Closed is terminal.
func (e *Exchange) ClosePool(ctx context.Context, id, caller solana.PublicKey) (uint64, error) {
	st, err := e.state(id)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !caller.Equals(st.pool.Creator) {
		return 0, fmt.Errorf("caller %s is not creator of %s: %w", caller, id, model.ErrUnauthorized)
	}
	switch st.pool.Status {
	case model.PoolActive:
	case model.PoolClosed:
		return 0, fmt.Errorf("pool %s: %w", id, model.ErrPoolClosed)
	default:
		return 0, fmt.Errorf("pool %s is %s: %w", id, st.pool.Status, model.ErrPoolNotActive)
	}
	if st.ladder.HasLiquidity() {
		return 0, fmt.Errorf("pool %s has %d funded bins: %w", id, len(st.ladder.Bins()), model.ErrNonZeroLiquidityOnClose)
	}
	returned := st.pool.BondAmount
	ev, err := e.newEvent(model.EventPoolClosed, id, e.now().Unix(), model.PoolClosedData{Pool: id, ReturnedBond: returned})
	if err != nil {
		return 0, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return 0, err
	}
	next := st.pool.Clone()
	next.Status = model.PoolClosed
	next.Paused = false
	next.BondAmount = 0
	st.pool = next
	e.logger.Info("pool closed", zap.String("pool", id.String()), zap.Uint64("returned_bond", returned))
	return returned, nil
}

// Pause blocks trading and liquidity changes on an active pool. The creator
// and the operator may pause.
func (e *Exchange) Pause(ctx context.Context, id, caller solana.PublicKey) (model.Pool, error) {
	return e.setPaused(ctx, id, caller, true)
}

// Unpause lifts a pause.
func (e *Exchange) Unpause(ctx context.Context, id, caller solana.PublicKey) (model.Pool, error) {
	return e.setPaused(ctx, id, caller, false)
}

func (e *Exchange) setPaused(ctx context.Context, id, caller solana.PublicKey, paused bool) (model.Pool, error) {
	st, err := e.state(id)
	if err != nil {
		return model.Pool{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !caller.Equals(st.pool.Creator) && (e.operator.IsZero() || !caller.Equals(e.operator)) {
		return model.Pool{}, fmt.Errorf("caller %s may not pause %s: %w", caller, id, model.ErrUnauthorized)
	}
	switch st.pool.Status {
	case model.PoolActive:
	case model.PoolClosed:
		return model.Pool{}, fmt.Errorf("pool %s: %w: %w", id, model.ErrPoolNotActive, model.ErrPoolClosed)
	default:
		return model.Pool{}, fmt.Errorf("pool %s is %s: %w", id, st.pool.Status, model.ErrPoolNotActive)
	}
	if st.pool.Paused == paused {
		return st.pool.Clone(), nil
	}

	kind := model.EventPoolUnpaused
	if paused {
		kind = model.EventPoolPaused
	}
	ev, err := e.newEvent(kind, id, e.now().Unix(), model.PoolPauseData{Pool: id, Caller: caller})
	if err != nil {
		return model.Pool{}, err
	}
	if err := e.emit(ctx, ev); err != nil {
		return model.Pool{}, err
	}
	next := st.pool.Clone()
	next.Paused = paused
	st.pool = next
	e.logger.Info("pool pause changed", zap.String("pool", id.String()), zap.Bool("paused", paused), zap.String("caller", caller.String()))
	out := next.Clone()
	out.ActiveBinID = st.ladder.ActiveBinID()
	return out, nil
}
