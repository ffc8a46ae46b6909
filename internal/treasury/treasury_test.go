package treasury

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"binExchange/internal/model"
)

type rateConverter struct {
	num, den uint64
	calls    atomic.Int32
	fail     error
}

func (c *rateConverter) Convert(_ context.Context, _ solana.PublicKey, amount uint64) (Conversion, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return Conversion{}, c.fail
	}
	return Conversion{AmountOut: amount * c.num / c.den, PriceImpactBps: 12}, nil
}

type sinkFunc func(uint64) error

func (f sinkFunc) Distribute(amount uint64) error { return f(amount) }

func TestHarvestIsIdempotent(t *testing.T) {
	var toStakers uint64
	conv := &rateConverter{num: 2, den: 1}
	d, err := NewDistributor(conv, sinkFunc(func(a uint64) error { toStakers += a; return nil }), DefaultSplit(), nil)
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	require.NoError(t, d.Accrue(pool, mint, 500))
	require.NoError(t, d.Accrue(pool, mint, 501))

	rec, err := d.Harvest(context.Background(), mint)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, uint64(1001), rec.TotalIn)
	require.Equal(t, uint64(2002), rec.NativeOut)
	require.Equal(t, uint64(600), rec.Burned)
	require.Equal(t, uint64(1001), rec.ToStakers)
	require.Equal(t, uint64(401), rec.ToOps)
	require.Equal(t, rec.NativeOut, rec.Burned+rec.ToStakers+rec.ToOps)
	require.Equal(t, uint64(1001), toStakers)

	again, err := d.Harvest(context.Background(), mint)
	require.NoError(t, err)
	require.Nil(t, again)
	require.Equal(t, int32(1), conv.calls.Load())
	require.Zero(t, d.Balance(mint))
}

func TestHarvestConversionFailureRestores(t *testing.T) {
	conv := &rateConverter{fail: errors.New("route not found")}
	d, err := NewDistributor(conv, nil, DefaultSplit(), nil)
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	require.NoError(t, d.Accrue(solana.SystemProgramID, mint, 77))

	_, err = d.Harvest(context.Background(), mint)
	require.ErrorIs(t, err, model.ErrConversionFailed)
	require.Equal(t, uint64(77), d.Balance(mint))
	require.Zero(t, d.Totals().Harvests)
}

func TestSettleReplaysHarvestWithoutConverting(t *testing.T) {
	var toStakers uint64
	conv := &rateConverter{num: 1, den: 1}
	d, err := NewDistributor(conv, sinkFunc(func(a uint64) error { toStakers += a; return nil }), DefaultSplit(), nil)
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	require.NoError(t, d.Accrue(solana.SystemProgramID, mint, 1_000))
	require.NoError(t, d.Settle(model.BuybackRecord{Mint: mint, TotalIn: 1_000, NativeOut: 3_000, Burned: 900, ToStakers: 1_500, ToOps: 600}))

	require.Zero(t, d.Balance(mint))
	require.Zero(t, conv.calls.Load())
	require.Equal(t, uint64(1_500), toStakers)
	require.Equal(t, Totals{Harvests: 1, NativeOut: 3_000, Burned: 900, ToStakers: 1_500, ToOps: 600}, d.Totals())

	err = d.Settle(model.BuybackRecord{Mint: mint, TotalIn: 1})
	require.Error(t, err)
	require.Equal(t, uint64(1), d.Totals().Harvests)
}

func TestConcurrentHarvestDrainsOnce(t *testing.T) {
	conv := &rateConverter{num: 1, den: 1}
	d, err := NewDistributor(conv, nil, DefaultSplit(), nil)
	require.NoError(t, err)
	mint := solana.NewWallet().PublicKey()
	require.NoError(t, d.Accrue(solana.SystemProgramID, mint, 10_000))

	var (
		wg      sync.WaitGroup
		records atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := d.Harvest(context.Background(), mint)
			if err == nil && rec != nil {
				records.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), records.Load())
	require.Equal(t, uint64(10_000), d.Totals().NativeOut)
}

func TestHarvestAllCollectsErrors(t *testing.T) {
	conv := &rateConverter{num: 1, den: 1}
	d, err := NewDistributor(conv, nil, DefaultSplit(), nil)
	require.NoError(t, err)
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, d.Accrue(solana.SystemProgramID, a, 10))
	require.NoError(t, d.Accrue(solana.SystemProgramID, b, 20))

	recs, err := d.HarvestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Empty(t, d.Balances())
}

func TestSplitValidation(t *testing.T) {
	_, err := NewDistributor(&rateConverter{num: 1, den: 1}, nil, Split{BurnBps: 5_000, StakersBps: 5_000, OpsBps: 1}, nil)
	require.ErrorIs(t, err, model.ErrInvalidSplit)
	require.NoError(t, Split{BurnBps: 10_000}.Validate())
}
