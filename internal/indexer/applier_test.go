package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
	"binExchange/internal/storage"
	"binExchange/internal/storage/memory"
)

type poolKeys struct {
	pool, base, quote solana.PublicKey
}

func newPoolKeys() poolKeys {
	return poolKeys{
		pool:  solana.NewWallet().PublicKey(),
		base:  solana.NewWallet().PublicKey(),
		quote: solana.NewWallet().PublicKey(),
	}
}

func mustEvent(t *testing.T, seq uint64, kind model.EventKind, pool solana.PublicKey, payload interface{}) model.Event {
	t.Helper()
	ev, err := model.NewEvent("test", seq, kind, pool, int64(1_700_000_000+seq), payload)
	require.NoError(t, err)
	return ev
}

func lifecycleEvents(t *testing.T, k poolKeys) []model.Event {
	return []model.Event{
		mustEvent(t, 1, model.EventPoolCreated, k.pool, model.PoolCreatedData{
			Pool: k.pool, BaseMint: k.base, QuoteMint: k.quote, BaseFeeBps: 25, BinStep: 10, BasePrice: fixedpoint.One(),
		}),
		mustEvent(t, 2, model.EventPoolActivated, k.pool, model.PoolActivatedData{Pool: k.pool, EscrowedAmount: 100}),
		mustEvent(t, 3, model.EventSwapExecuted, k.pool, model.SwapRecord{
			EventID: model.NewEventID("test", 3), Pool: k.pool, InMint: k.quote, InAmount: 10_000,
			OutMint: k.base, OutAmount: 9_975, FeeBps: 25, LPFee: 20, ProtocolFee: 5, EndBinID: 1, StartBinID: 0,
		}),
		mustEvent(t, 4, model.EventFeeRecorded, k.pool, model.FeeRecord{
			EventID: model.NewEventID("test", 4), Pool: k.pool, Mint: k.quote, Amount: 5,
		}),
		mustEvent(t, 5, model.EventStaked, solana.PublicKey{}, model.StakeData{Owner: solana.NewWallet().PublicKey(), Amount: 10}),
	}
}

func TestApplierProjectsLifecycle(t *testing.T) {
	ctx := context.Background()
	k := newPoolKeys()
	store := memory.NewStore()
	a := NewApplier(memory.NewIDSet(), store, nil)

	require.NoError(t, a.PutEventBatch(ctx, lifecycleEvents(t, k)))

	pool, ok, err := store.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.PoolActive, pool.Status)
	require.EqualValues(t, 100, pool.BondAmount)
	require.EqualValues(t, 10_000, pool.TotalVolume)
	require.EqualValues(t, 25, pool.TotalFees)
	require.EqualValues(t, 1, pool.ActiveBinID)
	require.Len(t, store.Fees(), 1)

	stats := a.Stats()
	require.EqualValues(t, 5, stats.Applied)
	require.EqualValues(t, 1, stats.ByKind[model.EventSwapExecuted])

	closed := mustEvent(t, 6, model.EventPoolClosed, k.pool, model.PoolClosedData{Pool: k.pool, ReturnedBond: 100})
	require.NoError(t, a.PutEventBatch(ctx, []model.Event{closed}))
	pool, _, err = store.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.Equal(t, model.PoolClosed, pool.Status)
	require.Zero(t, pool.BondAmount)
}

func TestApplierProjectsPause(t *testing.T) {
	ctx := context.Background()
	k := newPoolKeys()
	store := memory.NewStore()
	a := NewApplier(memory.NewIDSet(), store, nil)
	require.NoError(t, a.PutEventBatch(ctx, lifecycleEvents(t, k)[:2]))

	caller := solana.NewWallet().PublicKey()
	require.NoError(t, a.PutEventBatch(ctx, []model.Event{
		mustEvent(t, 3, model.EventPoolPaused, k.pool, model.PoolPauseData{Pool: k.pool, Caller: caller}),
	}))
	pool, _, err := store.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.True(t, pool.Paused)
	require.Equal(t, model.PoolActive, pool.Status)

	require.NoError(t, a.PutEventBatch(ctx, []model.Event{
		mustEvent(t, 4, model.EventPoolUnpaused, k.pool, model.PoolPauseData{Pool: k.pool, Caller: caller}),
	}))
	pool, _, err = store.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.False(t, pool.Paused)
	require.EqualValues(t, 1, a.Stats().ByKind[model.EventPoolPaused])
}

func TestApplierIgnoresReplays(t *testing.T) {
	ctx := context.Background()
	k := newPoolKeys()
	store := memory.NewStore()
	a := NewApplier(memory.NewIDSet(), store, nil)
	events := lifecycleEvents(t, k)

	require.NoError(t, a.PutEventBatch(ctx, events))
	require.NoError(t, a.PutEventBatch(ctx, events))

	pool, _, err := store.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.EqualValues(t, 10_000, pool.TotalVolume)
	page, err := store.ListSwaps(ctx, storage.PageQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.EqualValues(t, len(events), a.Stats().Duplicates)
}

type failingRecords struct {
	*memory.Store
	fail bool
}

func (f *failingRecords) PutSwaps(ctx context.Context, swaps []model.SwapRecord) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.PutSwaps(ctx, swaps)
}

func TestApplierRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	k := newPoolKeys()
	records := &failingRecords{Store: memory.NewStore(), fail: true}
	ids := memory.NewIDSet()
	a := NewApplier(ids, records, nil)
	events := lifecycleEvents(t, k)

	require.Error(t, a.PutEventBatch(ctx, events))
	seen, err := ids.Has(ctx, events[2].ID)
	require.NoError(t, err)
	require.False(t, seen, "failed event must not be marked applied")

	records.fail = false
	require.NoError(t, a.PutEventBatch(ctx, events))
	pool, _, err := records.GetPool(ctx, k.pool)
	require.NoError(t, err)
	require.EqualValues(t, 10_000, pool.TotalVolume)
}

func TestSwapQuoteFlows(t *testing.T) {
	k := newPoolKeys()
	pool := model.Pool{ID: k.pool, BaseMint: k.base, QuoteMint: k.quote}

	volume, fee, err := SwapQuoteFlows(pool, model.SwapRecord{InMint: k.base, InAmount: 10_000, OutAmount: 4_990, LPFee: 16, ProtocolFee: 4})
	require.NoError(t, err)
	require.EqualValues(t, 4_990, volume)
	require.EqualValues(t, 10, fee)

	// Chain records carry only the rate and the protocol share.
	fee, err = SwapFee(model.SwapRecord{InAmount: 600, FeeBps: 25, ProtocolFee: 1})
	require.NoError(t, err)
	require.EqualValues(t, 2, fee)
}
