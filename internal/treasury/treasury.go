package treasury

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// Conversion is the result of swapping accrued fees into the native token.
type Conversion struct {
	AmountOut      uint64
	PriceImpactBps uint32
}

// Converter swaps amount of mint into the native token.
type Converter interface {
	Convert(ctx context.Context, mint solana.PublicKey, amount uint64) (Conversion, error)
}

// RewardSink receives the stakers' share of each harvest.
type RewardSink interface {
	Distribute(amount uint64) error
}

// Split divides harvested output. The parts must sum to 10_000 bps.
type Split struct {
	BurnBps    uint32 `json:"burn_bps" mapstructure:"burn_bps"`
	StakersBps uint32 `json:"stakers_bps" mapstructure:"stakers_bps"`
	OpsBps     uint32 `json:"ops_bps" mapstructure:"ops_bps"`
}

// DefaultSplit burns 30%, pays stakers 50% and operations 20%.
func DefaultSplit() Split {
	return Split{BurnBps: 3_000, StakersBps: 5_000, OpsBps: 2_000}
}

func (s Split) Validate() error {
	if uint64(s.BurnBps)+uint64(s.StakersBps)+uint64(s.OpsBps) != fixedpoint.BasisPointMax {
		return fmt.Errorf("split %d/%d/%d: %w", s.BurnBps, s.StakersBps, s.OpsBps, model.ErrInvalidSplit)
	}
	return nil
}

// Apply splits out; ops takes the rounding remainder.
func (s Split) Apply(out uint64) (burned, stakers, ops uint64, err error) {
	if burned, err = fixedpoint.ApplyBps(out, s.BurnBps, fixedpoint.RoundDown); err != nil {
		return 0, 0, 0, err
	}
	if stakers, err = fixedpoint.ApplyBps(out, s.StakersBps, fixedpoint.RoundDown); err != nil {
		return 0, 0, 0, err
	}
	return burned, stakers, out - burned - stakers, nil
}

// Totals are cumulative harvest figures in native token units.
type Totals struct {
	Harvests  uint64 `json:"harvests,string"`
	NativeOut uint64 `json:"native_out,string"`
	Burned    uint64 `json:"burned,string"`
	ToStakers uint64 `json:"to_stakers,string"`
	ToOps     uint64 `json:"to_ops,string"`
}

type asset struct {
	mu      sync.Mutex
	balance uint64
}

// Distributor accumulates protocol fees per mint and harvests them.
type Distributor struct {
	converter Converter
	sink      RewardSink
	split     Split
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	assets map[solana.PublicKey]*asset
	totals Totals
}

// Option adjusts a Distributor.
type Option func(*Distributor)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(d *Distributor) { d.now = now }
}

func NewDistributor(converter Converter, sink RewardSink, split Split, logger *zap.Logger, opts ...Option) (*Distributor, error) {
	if converter == nil {
		return nil, errors.New("converter is nil")
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Distributor{
		converter: converter,
		sink:      sink,
		split:     split,
		logger:    logger,
		now:       time.Now,
		assets:    make(map[solana.PublicKey]*asset),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Distributor) assetFor(mint solana.PublicKey) *asset {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.assets[mint]
	if !ok {
		a = &asset{}
		d.assets[mint] = a
	}
	return a
}

// Accrue posts a protocol fee collected by pool in mint.
func (d *Distributor) Accrue(pool, mint solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	a := d.assetFor(mint)
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, err := fixedpoint.AddUint64(a.balance, amount)
	if err != nil {
		return fmt.Errorf("accrue %s from %s: %w", mint, pool, err)
	}
	a.balance = balance
	return nil
}

// Reverse takes back an accrual whose mutation was not committed. It fails
// when a harvest has already drained the amount.
func (d *Distributor) Reverse(pool, mint solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	a := d.assetFor(mint)
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, err := fixedpoint.SubUint64(a.balance, amount)
	if err != nil {
		return fmt.Errorf("reverse %s from %s: %w", mint, pool, err)
	}
	a.balance = balance
	return nil
}

// Balance returns the undistributed amount of mint.
func (d *Distributor) Balance(mint solana.PublicKey) uint64 {
	a := d.assetFor(mint)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Balances returns every non-zero accumulator.
func (d *Distributor) Balances() map[solana.PublicKey]uint64 {
	d.mu.Lock()
	assets := make(map[solana.PublicKey]*asset, len(d.assets))
	for mint, a := range d.assets {
		assets[mint] = a
	}
	d.mu.Unlock()

	out := make(map[solana.PublicKey]uint64)
	for mint, a := range assets {
		a.mu.Lock()
		if a.balance > 0 {
			out[mint] = a.balance
		}
		a.mu.Unlock()
	}
	return out
}

func (d *Distributor) Totals() Totals {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals
}

// Harvest drains the accumulator of mint, converts it and splits the output.
// It returns nil when nothing has accrued. On conversion failure the drained
// amount is restored.
func (d *Distributor) Harvest(ctx context.Context, mint solana.PublicKey) (*model.BuybackRecord, error) {
	a := d.assetFor(mint)
	a.mu.Lock()
	amount := a.balance
	a.balance = 0
	a.mu.Unlock()
	if amount == 0 {
		return nil, nil
	}

	conv, err := d.converter.Convert(ctx, mint, amount)
	if err != nil {
		d.restore(a, amount)
		d.logger.Warn("harvest conversion failed", zap.String("mint", mint.String()), zap.Uint64("amount", amount), zap.Error(err))
		return nil, fmt.Errorf("harvest %s: %v: %w", mint, err, model.ErrConversionFailed)
	}
	burned, stakers, ops, err := d.split.Apply(conv.AmountOut)
	if err != nil {
		d.restore(a, amount)
		return nil, fmt.Errorf("harvest %s split: %w", mint, err)
	}
	if d.sink != nil && stakers > 0 {
		// The conversion already settled; a sink failure is reported, not undone.
		if err := d.sink.Distribute(stakers); err != nil {
			d.logger.Error("staker distribution failed", zap.String("mint", mint.String()), zap.Uint64("amount", stakers), zap.Error(err))
		}
	}

	d.mu.Lock()
	d.totals.Harvests++
	d.totals.NativeOut += conv.AmountOut
	d.totals.Burned += burned
	d.totals.ToStakers += stakers
	d.totals.ToOps += ops
	d.mu.Unlock()

	rec := &model.BuybackRecord{
		Mint:           mint,
		Timestamp:      d.now().Unix(),
		TotalIn:        amount,
		NativeOut:      conv.AmountOut,
		PriceImpactBps: conv.PriceImpactBps,
		Burned:         burned,
		ToStakers:      stakers,
		ToOps:          ops,
	}
	d.logger.Info("harvested",
		zap.String("mint", mint.String()),
		zap.Uint64("total_in", amount),
		zap.Uint64("native_out", conv.AmountOut),
		zap.Uint64("burned", burned),
	)
	return rec, nil
}

// Settle applies a harvest recorded earlier without converting again: the
// accumulator of rec.Mint gives up rec.TotalIn and the stakers' share is
// distributed as recorded.
func (d *Distributor) Settle(rec model.BuybackRecord) error {
	a := d.assetFor(rec.Mint)
	a.mu.Lock()
	balance, err := fixedpoint.SubUint64(a.balance, rec.TotalIn)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("settle %s: balance %d below harvested %d: %w", rec.Mint, a.balance, rec.TotalIn, err)
	}
	a.balance = balance
	a.mu.Unlock()

	if d.sink != nil && rec.ToStakers > 0 {
		if err := d.sink.Distribute(rec.ToStakers); err != nil {
			return fmt.Errorf("settle %s distribution: %w", rec.Mint, err)
		}
	}
	d.mu.Lock()
	d.totals.Harvests++
	d.totals.NativeOut += rec.NativeOut
	d.totals.Burned += rec.Burned
	d.totals.ToStakers += rec.ToStakers
	d.totals.ToOps += rec.ToOps
	d.mu.Unlock()
	return nil
}

func (d *Distributor) restore(a *asset, amount uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if balance, err := fixedpoint.AddUint64(a.balance, amount); err == nil {
		a.balance = balance
		return
	}
	d.logger.Error("restore overflow", zap.Uint64("amount", amount))
}

// HarvestAll harvests every mint with a balance, in mint order. Failures
// are collected; successful harvests are still returned.
func (d *Distributor) HarvestAll(ctx context.Context) ([]model.BuybackRecord, error) {
	balances := d.Balances()
	mints := make([]solana.PublicKey, 0, len(balances))
	for mint := range balances {
		mints = append(mints, mint)
	}
	sort.Slice(mints, func(i, j int) bool { return mints[i].String() < mints[j].String() })

	var (
		out  []model.BuybackRecord
		errs []error
	)
	for _, mint := range mints {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rec, err := d.Harvest(ctx, mint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, errors.Join(errs...)
}
