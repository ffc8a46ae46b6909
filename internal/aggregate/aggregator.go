package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"binExchange/internal/indexer"
	"binExchange/internal/model"
	"binExchange/internal/storage"
)

const (
	feeMethodRecorded = "recorded"
	feeMethodFromRate = "approx_from_fee_bps"
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds int64
	// RecomputeFrom forces a start time and ignores the checkpoint.
	RecomputeFrom int64
	Checkpoint    indexer.Checkpoint
}

// TVLSource values a pool's current reserves in quote units.
type TVLSource interface {
	TVL(pool solana.PublicKey) (*uint256.Int, error)
}

// MetricsSink stores window metrics.
type MetricsSink interface {
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Aggregator folds swap records into per-pool window metrics. Only closed
// windows are produced, and the checkpoint is the end of the last one.
type Aggregator struct {
	cfg     Config
	records storage.RecordStore
	sink    MetricsSink
	tvl     TVLSource
	mints   *MintCache
	logger  *zap.Logger
}

func NewAggregator(cfg Config, records storage.RecordStore, sink MetricsSink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:     cfg,
		records: records,
		sink:    sink,
		mints:   NewMintCache(nil),
		logger:  logger,
	}
}

// WithTVL values the most recent window's fees against current reserves.
func (a *Aggregator) WithTVL(src TVLSource) *Aggregator {
	a.tvl = src
	return a
}

// WithMints formats amounts with mint decimals.
func (a *Aggregator) WithMints(cache *MintCache) *Aggregator {
	a.mints = cache
	return a
}

// Run aggregates every closed window up to now and returns the metrics it
// stored.
func (a *Aggregator) Run(ctx context.Context, now time.Time) ([]model.PoolWindowMetrics, error) {
	if a.records == nil {
		return nil, fmt.Errorf("record store is nil")
	}
	if a.cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window seconds must be > 0")
	}

	pools, err := a.records.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	start, ok, err := a.loadStart(ctx, pools)
	if err != nil {
		return nil, err
	}
	end := windowStart(now.Unix(), a.cfg.WindowSeconds)
	if !ok || start >= end {
		a.logger.Info("nothing to aggregate", zap.Int64("from", start), zap.Int64("to", end))
		return nil, nil
	}

	windows, err := SplitWindows(start, end, a.cfg.WindowSeconds)
	if err != nil {
		return nil, err
	}

	var out []model.PoolWindowMetrics
	var failed int
	for _, pool := range pools {
		swaps, err := a.records.SwapsBetween(ctx, pool.ID, windows[0].Start, end)
		if err != nil {
			return nil, fmt.Errorf("swaps for %s: %w", pool.ID, err)
		}
		accs := make(map[int64]*Accumulator)
		for _, rec := range swaps {
			ws := windowStart(rec.Timestamp, a.cfg.WindowSeconds)
			acc := accs[ws]
			if acc == nil {
				acc = NewAccumulator(pool, ws, ws+a.cfg.WindowSeconds)
				accs[ws] = acc
			}
			if err := acc.AddSwap(rec); err != nil {
				failed++
				a.logger.Warn("aggregate swap", zap.Error(err), zap.String("pool", pool.ID.String()))
			}
		}
		batch := make([]model.PoolWindowMetrics, 0, len(accs))
		for _, acc := range accs {
			if acc.SwapCount == 0 {
				continue
			}
			batch = append(batch, a.flush(ctx, acc, acc.WindowEnd == end))
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].WindowStart.Before(batch[j].WindowStart) })
		if len(batch) > 0 && a.sink != nil {
			if err := a.sink.UpsertWindowMetrics(ctx, batch); err != nil {
				return nil, fmt.Errorf("store metrics: %w", err)
			}
		}
		out = append(out, batch...)
	}

	if a.cfg.Checkpoint != nil {
		if err := a.cfg.Checkpoint.Save(ctx, uint64(end)); err != nil {
			return nil, fmt.Errorf("save aggregate state: %w", err)
		}
	}

	a.logger.Info("aggregate complete",
		zap.Int("pools", len(pools)),
		zap.Int("windows", len(out)),
		zap.Int("failed", failed),
		zap.Int64("from", windows[0].Start),
		zap.Int64("to", end),
	)
	return out, nil
}

func (a *Aggregator) loadStart(ctx context.Context, pools []model.Pool) (int64, bool, error) {
	if a.cfg.RecomputeFrom > 0 {
		return windowStart(a.cfg.RecomputeFrom, a.cfg.WindowSeconds), true, nil
	}
	if a.cfg.Checkpoint != nil {
		last, ok, err := a.cfg.Checkpoint.Load(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("load aggregate state: %w", err)
		}
		if ok {
			return int64(last), true, nil
		}
	}
	if len(pools) == 0 {
		return 0, false, nil
	}
	earliest := pools[0].CreatedAt
	for _, p := range pools[1:] {
		if p.CreatedAt < earliest {
			earliest = p.CreatedAt
		}
	}
	return windowStart(earliest, a.cfg.WindowSeconds), true, nil
}

func (a *Aggregator) flush(ctx context.Context, acc *Accumulator, latest bool) model.PoolWindowMetrics {
	baseDecimals := a.decimals(ctx, acc.Pool.BaseMint)
	quoteDecimals := a.decimals(ctx, acc.Pool.QuoteMint)

	m := model.PoolWindowMetrics{
		Pool:           acc.Pool.ID,
		WindowSizeSecs: a.cfg.WindowSeconds,
		WindowStart:    time.Unix(acc.WindowStart, 0).UTC(),
		WindowEnd:      time.Unix(acc.WindowEnd, 0).UTC(),
		SwapCount:      acc.SwapCount,
		VolumeBase:     formatTokenAmount(acc.VolumeBase, baseDecimals),
		VolumeQuote:    formatTokenAmount(acc.VolumeQuote, quoteDecimals),
		FeeBase:        formatTokenAmount(acc.FeeBase, baseDecimals),
		FeeQuote:       formatTokenAmount(acc.FeeQuote, quoteDecimals),
		FeeMethod:      feeMethodRecorded,
	}
	if acc.Estimated {
		m.FeeMethod = feeMethodFromRate
	}

	if latest && a.tvl != nil {
		tvl, err := a.tvl.TVL(acc.Pool.ID)
		if err != nil {
			a.logger.Warn("tvl unavailable", zap.String("pool", acc.Pool.ID.String()), zap.Error(err))
			return m
		}
		value := formatTokenAmount(tvl.ToBig(), quoteDecimals)
		m.TVLQuote = &value
		m.FeeRate = computeFeeRate(acc.FeeValue, tvl.ToBig())
		m.APR = computeAPR(m.FeeRate, a.cfg.WindowSeconds)
	}
	return m
}

func (a *Aggregator) decimals(ctx context.Context, mint solana.PublicKey) uint8 {
	if a.mints == nil {
		return 0
	}
	d, err := a.mints.Decimals(ctx, mint)
	if err != nil {
		a.logger.Debug("mint decimals", zap.String("mint", mint.String()), zap.Error(err))
		return 0
	}
	return d
}
