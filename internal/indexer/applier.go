package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
	"binExchange/internal/storage"
)

// ApplyStats counts what an Applier has processed.
type ApplyStats struct {
	Applied    uint64
	Duplicates uint64
	ByKind     map[model.EventKind]uint64
}

// Applier projects events into a RecordStore. Each event id is applied at
// most once.
type Applier struct {
	ids     storage.IDSet
	records storage.RecordStore
	logger  *zap.Logger

	mu    sync.Mutex
	stats ApplyStats
}

var _ storage.Storage = (*Applier)(nil)

func NewApplier(ids storage.IDSet, records storage.RecordStore, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		ids:     ids,
		records: records,
		logger:  logger,
		stats:   ApplyStats{ByKind: make(map[model.EventKind]uint64)},
	}
}

// PutEventBatch applies events in order. An id is marked applied only after
// its projection succeeded.
func (a *Applier) PutEventBatch(ctx context.Context, events []model.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ev := range events {
		seen, err := a.ids.Has(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("check event %s: %w", ev.ID, err)
		}
		if seen {
			a.stats.Duplicates++
			continue
		}
		if err := a.apply(ctx, ev); err != nil {
			return fmt.Errorf("apply %s %s: %w", ev.Kind, ev.ID, err)
		}
		if _, err := a.ids.Add(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark event %s: %w", ev.ID, err)
		}
		a.stats.Applied++
		a.stats.ByKind[ev.Kind]++
	}
	return nil
}

// Stats returns a copy of the counters.
func (a *Applier) Stats() ApplyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := ApplyStats{Applied: a.stats.Applied, Duplicates: a.stats.Duplicates, ByKind: make(map[model.EventKind]uint64, len(a.stats.ByKind))}
	for k, v := range a.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}

func (a *Applier) apply(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventPoolCreated:
		var data model.PoolCreatedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return a.createPool(ctx, ev, data)
	case model.EventPoolActivated:
		var data model.PoolActivatedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return a.updatePool(ctx, data.Pool, func(p *model.Pool) {
			p.Status = model.PoolActive
			// Chain-decoded creations carry no bond.
			if p.BondAmount == 0 {
				p.BondAmount = data.EscrowedAmount
			}
		})
	case model.EventPoolClosed:
		var data model.PoolClosedData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return a.updatePool(ctx, data.Pool, func(p *model.Pool) {
			p.Status = model.PoolClosed
			p.Paused = false
			p.BondAmount = 0
		})
	case model.EventPoolPaused, model.EventPoolUnpaused:
		var data model.PoolPauseData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		return a.updatePool(ctx, data.Pool, func(p *model.Pool) {
			p.Paused = ev.Kind == model.EventPoolPaused
		})
	case model.EventSwapExecuted:
		var rec model.SwapRecord
		if err := ev.Decode(&rec); err != nil {
			return err
		}
		return a.applySwap(ctx, rec)
	case model.EventFeeRecorded:
		var rec model.FeeRecord
		if err := ev.Decode(&rec); err != nil {
			return err
		}
		return a.records.PutFees(ctx, []model.FeeRecord{rec})
	case model.EventHarvested:
		var rec model.BuybackRecord
		if err := ev.Decode(&rec); err != nil {
			return err
		}
		return a.records.PutBuybacks(ctx, []model.BuybackRecord{rec})
	case model.EventLiquidityAdded, model.EventLiquidityRemoved:
		var data model.LiquidityData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		a.logger.Debug("liquidity event", zap.String("kind", string(ev.Kind)), zap.String("pool", data.Pool.String()), zap.String("owner", data.Owner.String()))
		return nil
	case model.EventStaked, model.EventUnstaked, model.EventRewardsClaimed:
		var data model.StakeData
		if err := ev.Decode(&data); err != nil {
			return err
		}
		a.logger.Debug("staking event", zap.String("kind", string(ev.Kind)), zap.String("owner", data.Owner.String()), zap.Uint64("amount", data.Amount))
		return nil
	default:
		a.logger.Warn("unknown event kind", zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID.Hex()))
		return nil
	}
}

func (a *Applier) createPool(ctx context.Context, ev model.Event, data model.PoolCreatedData) error {
	if _, ok, err := a.records.GetPool(ctx, data.Pool); err != nil {
		return err
	} else if ok {
		return nil
	}
	status := model.PoolBonded
	if data.Active {
		status = model.PoolActive
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
		Status:      status,
		ActiveBinID: data.ActiveBinID,
		BasePrice:   data.BasePrice,
		CreatedAt:   ev.Timestamp,
	}
	return a.records.UpsertPools(ctx, []model.Pool{pool})
}

func (a *Applier) updatePool(ctx context.Context, id solana.PublicKey, fn func(*model.Pool)) error {
	pool, ok, err := a.records.GetPool(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Warn("event for unknown pool", zap.String("pool", id.String()))
		return nil
	}
	fn(&pool)
	return a.records.UpsertPools(ctx, []model.Pool{pool})
}

func (a *Applier) applySwap(ctx context.Context, rec model.SwapRecord) error {
	if err := a.records.PutSwaps(ctx, []model.SwapRecord{rec}); err != nil {
		return err
	}
	return a.updatePool(ctx, rec.Pool, func(p *model.Pool) {
		volume, fee, err := SwapQuoteFlows(*p, rec)
		if err != nil {
			a.logger.Warn("swap flows", zap.String("event_id", rec.EventID.Hex()), zap.Error(err))
			return
		}
		p.TotalVolume += volume
		p.TotalFees += fee
		if rec.EndBinID != 0 || rec.StartBinID != 0 {
			p.ActiveBinID = rec.EndBinID
		}
	})
}

// SwapFee is the total fee charged on a swap, in the input mint. Records
// decoded from the chain only carry the protocol share and the rate.
func SwapFee(rec model.SwapRecord) (uint64, error) {
	if rec.LPFee != 0 || rec.FeeBps == 0 {
		return fixedpoint.AddUint64(rec.LPFee, rec.ProtocolFee)
	}
	return fixedpoint.ApplyBps(rec.InAmount, rec.FeeBps, fixedpoint.RoundUp)
}

// SwapQuoteFlows values a swap's volume and fee in quote units.
func SwapQuoteFlows(pool model.Pool, rec model.SwapRecord) (volume, fee uint64, err error) {
	fee, err = SwapFee(rec)
	if err != nil {
		return 0, 0, err
	}
	if rec.InMint.Equals(pool.QuoteMint) {
		return rec.InAmount, fee, nil
	}
	net, err := fixedpoint.SubUint64(rec.InAmount, fee)
	if err != nil {
		return 0, 0, fmt.Errorf("net input: %w", err)
	}
	if net == 0 {
		return rec.OutAmount, 0, nil
	}
	fee, err = fixedpoint.MulDivUint64(fee, rec.OutAmount, net, fixedpoint.RoundDown)
	if err != nil {
		return 0, 0, fmt.Errorf("fee value: %w", err)
	}
	return rec.OutAmount, fee, nil
}
