package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/position"
	"binExchange/internal/staking"
	"binExchange/internal/treasury"
)

// Params are protocol-wide constants.
type Params struct {
	ProgramID        solana.PublicKey
	BondAmount       uint64
	MinFeeBps        uint32
	MaxFeeBps        uint32
	MinBinStep       uint16
	MaxBinStep       uint16
	MaxBinOffset     int32
	ProtocolShareBps uint32
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{
		ProgramID:        solana.SystemProgramID,
		BondAmount:       10_000_000_000,
		MinFeeBps:        5,
		MaxFeeBps:        100,
		MinBinStep:       1,
		MaxBinStep:       500,
		MaxBinOffset:     5_000,
		ProtocolShareBps: 2_000,
	}
}

func (p Params) Validate() error {
	if p.MinFeeBps > p.MaxFeeBps || p.MaxFeeBps >= fixedpoint.BasisPointMax {
		return fmt.Errorf("fee bounds %d..%d: %w", p.MinFeeBps, p.MaxFeeBps, model.ErrInvalidFeeConfig)
	}
	if p.ProtocolShareBps > fixedpoint.BasisPointMax {
		return fmt.Errorf("protocol share %d bps: %w", p.ProtocolShareBps, model.ErrInvalidFeeConfig)
	}
	if p.MinBinStep == 0 || p.MinBinStep > p.MaxBinStep {
		return fmt.Errorf("bin step bounds %d..%d: %w", p.MinBinStep, p.MaxBinStep, model.ErrInvalidPoolConfig)
	}
	if p.MaxBinOffset <= 0 {
		return fmt.Errorf("max bin offset %d: %w", p.MaxBinOffset, model.ErrInvalidPoolConfig)
	}
	return nil
}

// EventSink receives the events of committed mutations.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.Event) error
}

type poolState struct {
	mu        sync.RWMutex
	pool      model.Pool
	ladder    *ladder.Ladder
	positions *position.Ledger
}

// Exchange owns the pool registry and coordinates ladders, position ledgers,
// the treasury and staking. Each pool is guarded by its own lock; a mutation
// builds new ladder and ledger values and commits them with a pointer swap.
type Exchange struct {
	params   Params
	treasury *treasury.Distributor
	staking  *staking.Pool
	sink     EventSink
	logger   *zap.Logger
	now      func() time.Time
	source   string
	operator solana.PublicKey
	seq      atomic.Uint64

	mu    sync.RWMutex
	pools map[solana.PublicKey]*poolState
}

// Option adjusts an Exchange.
type Option func(*Exchange)

func WithEventSink(sink EventSink) Option {
	return func(e *Exchange) { e.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithOperator lets key pause and unpause any pool.
func WithOperator(key solana.PublicKey) Option {
	return func(e *Exchange) { e.operator = key }
}

// WithEventSource sets the source name that seeds event ids and the last
// sequence number already used under it.
func WithEventSource(source string, lastSeq uint64) Option {
	return func(e *Exchange) {
		e.source = source
		e.seq.Store(lastSeq)
	}
}

func New(params Params, dist *treasury.Distributor, stakes *staking.Pool, opts ...Option) (*Exchange, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if dist == nil {
		return nil, errors.New("treasury is nil")
	}
	if stakes == nil {
		return nil, errors.New("staking pool is nil")
	}
	e := &Exchange{
		params:   params,
		treasury: dist,
		staking:  stakes,
		logger:   zap.NewNop(),
		now:      time.Now,
		source:   "exchange",
		pools:    make(map[solana.PublicKey]*poolState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exchange) Params() Params { return e.params }

func (e *Exchange) Treasury() *treasury.Distributor { return e.treasury }

func (e *Exchange) Staking() *staking.Pool { return e.staking }

func (e *Exchange) state(id solana.PublicKey) (*poolState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, model.ErrPoolNotFound)
	}
	return st, nil
}

// requireActive must be called with st.mu held.
func requireActive(st *poolState) error {
	switch st.pool.Status {
	case model.PoolActive:
		if st.pool.Paused {
			return fmt.Errorf("pool %s: %w: %w", st.pool.ID, model.ErrPoolNotActive, model.ErrPoolPaused)
		}
		return nil
	case model.PoolClosed:
		return fmt.Errorf("pool %s: %w: %w", st.pool.ID, model.ErrPoolNotActive, model.ErrPoolClosed)
	default:
		return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, model.ErrPoolNotActive)
	}
}

// newEvent assigns the next sequence number.
func (e *Exchange) newEvent(kind model.EventKind, pool solana.PublicKey, ts int64, payload interface{}) (model.Event, error) {
	return model.NewEvent(e.source, e.seq.Add(1), kind, pool, ts, payload)
}

// emit appends events; with no sink configured it is a no-op.
func (e *Exchange) emit(ctx context.Context, events ...model.Event) error {
	if e.sink == nil || len(events) == 0 {
		return nil
	}
	if err := e.sink.PutEventBatch(ctx, events); err != nil {
		return fmt.Errorf("append %d events: %w", len(events), err)
	}
	return nil
}

// GetPool returns a snapshot of the pool record.
func (e *Exchange) GetPool(id solana.PublicKey) (model.Pool, error) {
	st, err := e.state(id)
	if err != nil {
		return model.Pool{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := st.pool.Clone()
	out.ActiveBinID = st.ladder.ActiveBinID()
	return out, nil
}

// ListPools returns every pool ordered by creation time.
func (e *Exchange) ListPools() []model.Pool {
	e.mu.RLock()
	states := make([]*poolState, 0, len(e.pools))
	for _, st := range e.pools {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]model.Pool, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		p := st.pool.Clone()
		p.ActiveBinID = st.ladder.ActiveBinID()
		st.mu.RUnlock()
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// BinView is a bin with its derived price.
type BinView struct {
	model.Bin
	Price *uint256.Int `json:"price"`
}

// ListBins returns the pool's non-empty bins in ascending order.
func (e *Exchange) ListBins(id solana.PublicKey) ([]BinView, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}
	// Committed ladders are never mutated, so the snapshot is read unlocked.
	st.mu.RLock()
	l := st.ladder
	st.mu.RUnlock()

	bins := l.Bins()
	out := make([]BinView, 0, len(bins))
	for _, b := range bins {
		price, err := l.PriceAt(b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BinView{Bin: b, Price: price})
	}
	return out, nil
}

// Positions lists the pool's positions, filtered to owner unless it is zero.
func (e *Exchange) Positions(id, owner solana.PublicKey) ([]model.LiquidityPosition, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	ledger := st.positions
	st.mu.RUnlock()
	if owner.IsZero() {
		return ledger.All(), nil
	}
	return ledger.ByOwner(owner), nil
}

// TVL values the pool's reserves in quote units, pricing each bin's base
// reserve at the bin price.
func (e *Exchange) TVL(id solana.PublicKey) (*uint256.Int, error) {
	bins, err := e.ListBins(id)
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, b := range bins {
		v, err := fixedpoint.QuoteValue(b.BaseReserve, b.Price, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		if total, err = fixedpoint.Add(total, v); err != nil {
			return nil, err
		}
		if total, err = fixedpoint.Add(total, uint256.NewInt(b.QuoteReserve)); err != nil {
			return nil, err
		}
	}
	return total, nil
}
