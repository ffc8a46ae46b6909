package exchange

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"binExchange/internal/feetier"
	"binExchange/internal/fixedpoint"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/staking"
	"binExchange/internal/storage"
	"binExchange/internal/treasury"
)

type memSink struct {
	mu     sync.Mutex
	events []model.Event
	fail   error
}

func (s *memSink) PutEventBatch(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memSink) kinds() []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type oneToOne struct{}

func (oneToOne) Convert(_ context.Context, _ solana.PublicKey, amount uint64) (treasury.Conversion, error) {
	return treasury.Conversion{AmountOut: amount}, nil
}

type fixture struct {
	ex       *Exchange
	sink     *memSink
	stakes   *staking.Pool
	operator solana.PublicKey
	creator  solana.PublicKey
	base     solana.PublicKey
	quote    solana.PublicKey
}

func newExchange(t *testing.T, sink EventSink, operator solana.PublicKey) (*Exchange, *staking.Pool) {
	t.Helper()
	table, err := feetier.NewTable(feetier.DefaultTiers(0))
	require.NoError(t, err)
	stakes, err := staking.NewPool(table, nil)
	require.NoError(t, err)
	dist, err := treasury.NewDistributor(oneToOne{}, stakes, treasury.DefaultSplit(), nil)
	require.NoError(t, err)

	params := DefaultParams()
	params.BondAmount = 100
	ex, err := New(params, dist, stakes,
		WithEventSink(sink),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
		WithEventSource("test", 0),
		WithOperator(operator),
	)
	require.NoError(t, err)
	return ex, stakes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := &memSink{}
	operator := solana.NewWallet().PublicKey()
	ex, stakes := newExchange(t, sink, operator)
	return &fixture{
		ex:       ex,
		sink:     sink,
		stakes:   stakes,
		operator: operator,
		creator:  solana.NewWallet().PublicKey(),
		base:     solana.NewWallet().PublicKey(),
		quote:    solana.NewWallet().PublicKey(),
	}
}

func (f *fixture) createPool(t *testing.T) model.Pool {
	t.Helper()
	p, err := f.ex.CreatePool(context.Background(), CreatePoolRequest{
		Creator:    f.creator,
		BaseMint:   f.base,
		QuoteMint:  f.quote,
		BinStep:    10,
		BaseFeeBps: 25,
		BasePrice:  fixedpoint.One(),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) activePool(t *testing.T) model.Pool {
	t.Helper()
	p := f.createPool(t)
	p, err := f.ex.ConfirmBond(context.Background(), p.ID, 100)
	require.NoError(t, err)
	return p
}

func (f *fixture) seed(t *testing.T, id, owner solana.PublicKey, base uint64) {
	t.Helper()
	_, err := f.ex.AddLiquidity(context.Background(), AddLiquidityRequest{
		Pool:       id,
		Owner:      owner,
		Range:      ladder.Range{Lower: 0, Upper: 0},
		BaseAmount: base,
	})
	require.NoError(t, err)
}

func TestPoolLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPool(t)
	require.Equal(t, model.PoolBonded, p.Status)

	expected, err := DerivePoolAddress(f.ex.Params().ProgramID, f.base, f.quote, 10)
	require.NoError(t, err)
	require.Equal(t, expected, p.ID)

	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10})
	require.ErrorIs(t, err, model.ErrPoolNotActive)

	_, err = f.ex.ConfirmBond(ctx, p.ID, 99)
	require.ErrorIs(t, err, model.ErrBondNotMet)
	p, err = f.ex.ConfirmBond(ctx, p.ID, 100)
	require.NoError(t, err)
	require.Equal(t, model.PoolActive, p.Status)

	lp := solana.NewWallet().PublicKey()
	f.seed(t, p.ID, lp, 1_000_000)

	trader := solana.NewWallet().PublicKey()
	rec, q, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Trader: trader, Direction: ladder.QuoteIn, AmountIn: 10_000, MinAmountOut: 9_000})
	require.NoError(t, err)
	require.Equal(t, uint64(25), q.Fee)
	require.Equal(t, uint64(5), q.ProtocolFee)
	require.Equal(t, uint64(9_975), rec.OutAmount)
	require.Equal(t, f.quote, rec.InMint)
	require.Equal(t, f.base, rec.OutMint)
	require.Equal(t, uint64(5), f.ex.Treasury().Balance(f.quote))

	p, err = f.ex.GetPool(p.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), p.TotalVolume)
	require.Equal(t, uint64(25), p.TotalFees)

	_, err = f.ex.ClosePool(ctx, p.ID, f.creator)
	require.ErrorIs(t, err, model.ErrNonZeroLiquidityOnClose)

	res, err := f.ex.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Range: ladder.Range{}, Bps: 10_000})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000-9_975), res.BaseAmount)
	require.Equal(t, uint64(9_975+20), res.QuoteAmount)
	require.Empty(t, res.Position.Shares)

	_, err = f.ex.ClosePool(ctx, p.ID, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, model.ErrUnauthorized)
	bond, err := f.ex.ClosePool(ctx, p.ID, f.creator)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bond)

	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10})
	require.ErrorIs(t, err, model.ErrPoolNotActive)
	require.ErrorIs(t, err, model.ErrPoolClosed)
	_, err = f.ex.ClosePool(ctx, p.ID, f.creator)
	require.ErrorIs(t, err, model.ErrPoolClosed)

	require.Equal(t, []model.EventKind{
		model.EventPoolCreated,
		model.EventPoolActivated,
		model.EventLiquidityAdded,
		model.EventSwapExecuted,
		model.EventFeeRecorded,
		model.EventLiquidityRemoved,
		model.EventPoolClosed,
	}, f.sink.kinds())
}

func TestClosePoolRequiresActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPool(t)
	require.EqualValues(t, 100, p.BondAmount)

	_, err := f.ex.ClosePool(ctx, p.ID, f.creator)
	require.ErrorIs(t, err, model.ErrPoolNotActive)
	got, err := f.ex.GetPool(p.ID)
	require.NoError(t, err)
	require.Equal(t, model.PoolBonded, got.Status)

	// Escrow above the bond still refunds the bond.
	_, err = f.ex.ConfirmBond(ctx, p.ID, 150)
	require.NoError(t, err)
	bond, err := f.ex.ClosePool(ctx, p.ID, f.creator)
	require.NoError(t, err)
	require.EqualValues(t, 100, bond)
	require.Equal(t, []model.EventKind{model.EventPoolCreated, model.EventPoolActivated, model.EventPoolClosed}, f.sink.kinds())
}

func TestPauseBlocksMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	lp := solana.NewWallet().PublicKey()
	f.seed(t, p.ID, lp, 1_000_000)

	_, err := f.ex.Pause(ctx, p.ID, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, model.ErrUnauthorized)

	paused, err := f.ex.Pause(ctx, p.ID, f.creator)
	require.NoError(t, err)
	require.True(t, paused.Paused)
	require.Equal(t, model.PoolActive, paused.Status)

	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
	require.ErrorIs(t, err, model.ErrPoolNotActive)
	require.ErrorIs(t, err, model.ErrPoolPaused)
	_, err = f.ex.AddLiquidity(ctx, AddLiquidityRequest{Pool: p.ID, Owner: lp, BaseAmount: 10})
	require.ErrorIs(t, err, model.ErrPoolPaused)
	_, err = f.ex.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Bps: 10_000})
	require.ErrorIs(t, err, model.ErrPoolPaused)
	_, err = f.ex.Quote(p.ID, ladder.QuoteIn, 10_000)
	require.ErrorIs(t, err, model.ErrPoolPaused)

	unpaused, err := f.ex.Unpause(ctx, p.ID, f.operator)
	require.NoError(t, err)
	require.False(t, unpaused.Paused)
	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
	require.NoError(t, err)

	kinds := f.sink.kinds()
	require.Equal(t, []model.EventKind{model.EventPoolPaused, model.EventPoolUnpaused, model.EventSwapExecuted, model.EventFeeRecorded}, kinds[3:])
}

func TestPauseRejectsBondedPool(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t)
	_, err := f.ex.Pause(context.Background(), p.ID, f.creator)
	require.ErrorIs(t, err, model.ErrPoolNotActive)
}

func TestSwapMaxAmountIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)
	before := len(f.sink.kinds())

	_, _, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000, MaxAmountIn: 9_000})
	require.ErrorIs(t, err, model.ErrSlippageExceeded)
	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, MinAmountOut: 9_975, MaxAmountIn: 9_999})
	require.ErrorIs(t, err, model.ErrSlippageExceeded)
	require.Len(t, f.sink.kinds(), before)

	rec, q, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, MinAmountOut: 9_975, MaxAmountIn: 10_000})
	require.NoError(t, err)
	require.EqualValues(t, 10_000, rec.InAmount)
	require.EqualValues(t, 9_975, q.AmountOut)
}

func TestReplayRestoresState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	lp := solana.NewWallet().PublicKey()
	f.seed(t, p.ID, lp, 1_000_000)
	_, err := f.ex.AddLiquidity(ctx, AddLiquidityRequest{Pool: p.ID, Owner: lp, Range: ladder.Range{Lower: 1, Upper: 4}, BaseAmount: 400_003})
	require.NoError(t, err)

	staker := solana.NewWallet().PublicKey()
	_, err = f.ex.Stake(ctx, staker, 1_024)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 400_000})
		require.NoError(t, err)
	}
	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.BaseIn, AmountIn: 150_000})
	require.NoError(t, err)
	_, err = f.ex.HarvestAll(ctx)
	require.NoError(t, err)
	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 50_000})
	require.NoError(t, err)
	_, err = f.ex.Claim(ctx, staker)
	require.NoError(t, err)
	_, err = f.ex.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Range: ladder.Range{Lower: 1, Upper: 4}, Bps: 3_333})
	require.NoError(t, err)
	_, err = f.ex.Pause(ctx, p.ID, f.creator)
	require.NoError(t, err)
	_, err = f.ex.Unpause(ctx, p.ID, f.creator)
	require.NoError(t, err)

	sink := &memSink{}
	restored, stakes := newExchange(t, sink, f.operator)
	r := restored.Replayer()
	require.NoError(t, r.PutEventBatch(ctx, f.sink.events))
	require.EqualValues(t, len(f.sink.events), r.Applied())

	require.Equal(t, f.ex.ListPools(), restored.ListPools())
	wantBins, err := f.ex.ListBins(p.ID)
	require.NoError(t, err)
	gotBins, err := restored.ListBins(p.ID)
	require.NoError(t, err)
	require.Equal(t, wantBins, gotBins)
	wantPos, err := f.ex.Positions(p.ID, solana.PublicKey{})
	require.NoError(t, err)
	gotPos, err := restored.Positions(p.ID, solana.PublicKey{})
	require.NoError(t, err)
	require.Equal(t, wantPos, gotPos)
	require.Equal(t, f.ex.Treasury().Balances(), restored.Treasury().Balances())
	require.Equal(t, f.ex.Treasury().Totals(), restored.Treasury().Totals())
	wantAcc, _ := f.stakes.Account(staker)
	gotAcc, ok := stakes.Account(staker)
	require.True(t, ok)
	require.Equal(t, wantAcc, gotAcc)

	// The provider can withdraw from the restored exchange exactly as before.
	want, err := f.ex.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Range: ladder.Range{}, Bps: 10_000})
	require.NoError(t, err)
	got, err := restored.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Range: ladder.Range{}, Bps: 10_000})
	require.NoError(t, err)
	require.Equal(t, want.BaseAmount, got.BaseAmount)
	require.Equal(t, want.QuoteAmount, got.QuoteAmount)
	require.Equal(t, f.sink.events[len(f.sink.events)-1].Seq, sink.events[0].Seq)
}

func TestRestartFromJournalThenWithdraw(t *testing.T) {
	ctx := context.Background()
	journal := storage.NewJsonlStorage(filepath.Join(t.TempDir(), "events.jsonl"))
	operator := solana.NewWallet().PublicKey()
	ex, _ := newExchange(t, journal, operator)

	creator := solana.NewWallet().PublicKey()
	p, err := ex.CreatePool(ctx, CreatePoolRequest{
		Creator:    creator,
		BaseMint:   solana.NewWallet().PublicKey(),
		QuoteMint:  solana.NewWallet().PublicKey(),
		BinStep:    10,
		BaseFeeBps: 25,
		BasePrice:  fixedpoint.One(),
	})
	require.NoError(t, err)
	_, err = ex.ConfirmBond(ctx, p.ID, 100)
	require.NoError(t, err)
	lp := solana.NewWallet().PublicKey()
	r := ladder.Range{Lower: -2, Upper: 3}
	_, err = ex.AddLiquidity(ctx, AddLiquidityRequest{Pool: p.ID, Owner: lp, Range: r, BaseAmount: 900_000, QuoteAmount: 300_000})
	require.NoError(t, err)
	_, _, err = ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 250_000})
	require.NoError(t, err)

	lastSeq, err := journal.LastSeq(ctx, "test")
	require.NoError(t, err)
	events, _, err := journal.ReadEvents(ctx, 0, 100)
	require.NoError(t, err)

	restarted, _ := newExchange(t, journal, operator)
	require.NoError(t, restarted.Replayer().PutEventBatch(ctx, events))
	want, err := ex.TVL(p.ID)
	require.NoError(t, err)
	got, err := restarted.TVL(p.ID)
	require.NoError(t, err)
	require.Equal(t, want, got)

	res, err := restarted.RemoveLiquidity(ctx, RemoveLiquidityRequest{Pool: p.ID, Owner: lp, Range: r, Bps: 10_000})
	require.NoError(t, err)
	require.Empty(t, res.Position.Shares)
	require.NotZero(t, res.BaseAmount)
	require.NotZero(t, res.QuoteAmount)

	next, err := journal.LastSeq(ctx, "test")
	require.NoError(t, err)
	require.Equal(t, lastSeq+1, next)
}

func TestReplayDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)
	_, _, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
	require.NoError(t, err)

	events := append([]model.Event(nil), f.sink.events...)
	var rec model.SwapRecord
	require.NoError(t, events[3].Decode(&rec))
	rec.OutAmount++
	tampered, err := model.NewEvent(events[3].Source, events[3].Seq, events[3].Kind, events[3].Pool, events[3].Timestamp, rec)
	require.NoError(t, err)
	events[3] = tampered

	restored, _ := newExchange(t, &memSink{}, f.operator)
	err = restored.Replayer().PutEventBatch(ctx, events)
	require.ErrorIs(t, err, model.ErrReplayDiverged)
}

func TestCreatePoolValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createPool(t)

	_, err := f.ex.CreatePool(ctx, CreatePoolRequest{Creator: f.creator, BaseMint: f.base, QuoteMint: f.quote, BinStep: 10, BaseFeeBps: 25, BasePrice: fixedpoint.One()})
	require.ErrorIs(t, err, model.ErrPoolExists)

	cases := map[string]struct {
		req  CreatePoolRequest
		want error
	}{
		"fee below floor": {CreatePoolRequest{BaseMint: f.base, QuoteMint: f.quote, BinStep: 20, BaseFeeBps: 1, BasePrice: fixedpoint.One()}, model.ErrInvalidFeeConfig},
		"fee above cap":   {CreatePoolRequest{BaseMint: f.base, QuoteMint: f.quote, BinStep: 20, BaseFeeBps: 101, BasePrice: fixedpoint.One()}, model.ErrInvalidFeeConfig},
		"zero bin step":   {CreatePoolRequest{BaseMint: f.base, QuoteMint: f.quote, BinStep: 0, BaseFeeBps: 25, BasePrice: fixedpoint.One()}, model.ErrInvalidPoolConfig},
		"same mint":       {CreatePoolRequest{BaseMint: f.base, QuoteMint: f.base, BinStep: 20, BaseFeeBps: 25, BasePrice: fixedpoint.One()}, model.ErrInvalidPoolConfig},
		"no price":        {CreatePoolRequest{BaseMint: f.base, QuoteMint: f.quote, BinStep: 20, BaseFeeBps: 25}, model.ErrInvalidPoolConfig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ex.CreatePool(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Len(t, f.ex.ListPools(), 1)
}

func TestSwapAppendFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)
	before, err := f.ex.ListBins(p.ID)
	require.NoError(t, err)

	f.sink.fail = errors.New("disk full")
	_, _, err = f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
	require.Error(t, err)

	after, err := f.ex.ListBins(p.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Zero(t, f.ex.Treasury().Balance(f.quote))
	got, err := f.ex.GetPool(p.ID)
	require.NoError(t, err)
	require.Zero(t, got.TotalVolume)
}

func TestSlippageRejected(t *testing.T) {
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	_, _, err := f.ex.Swap(context.Background(), SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000, MinAmountOut: 9_976})
	require.ErrorIs(t, err, model.ErrSlippageExceeded)
	require.Equal(t, []model.EventKind{model.EventPoolCreated, model.EventPoolActivated, model.EventLiquidityAdded}, f.sink.kinds())
}

func TestStakeDiscountsFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	trader := solana.NewWallet().PublicKey()
	q, err := f.ex.QuoteForTrader(p.ID, trader, ladder.QuoteIn, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint32(25), q.FeeBps)

	acc, err := f.ex.Stake(ctx, trader, 15_000)
	require.NoError(t, err)
	require.Equal(t, uint8(2), acc.Tier)

	q, err = f.ex.QuoteForTrader(p.ID, trader, ladder.QuoteIn, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint32(15), q.FeeBps)

	anon, err := f.ex.Quote(p.ID, ladder.QuoteIn, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint32(25), anon.FeeBps)
}

func TestHarvestRewardsStakers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	staker := solana.NewWallet().PublicKey()
	_, err := f.ex.Stake(ctx, staker, 1_024)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
		require.NoError(t, err)
	}
	require.Equal(t, uint64(20), f.ex.Treasury().Balance(f.quote))

	recs, err := f.ex.HarvestAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotEqual(t, [32]byte{}, [32]byte(recs[0].EventID))
	require.Equal(t, uint64(20), recs[0].TotalIn)
	require.Equal(t, uint64(10), recs[0].ToStakers)

	paid, err := f.ex.Claim(ctx, staker)
	require.NoError(t, err)
	require.Equal(t, uint64(10), paid)

	kinds := f.sink.kinds()
	require.Contains(t, kinds, model.EventHarvested)
	require.Equal(t, model.EventRewardsClaimed, kinds[len(kinds)-1])
}

func TestMaxAmountInThroughExchange(t *testing.T) {
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	in, q, err := f.ex.MaxAmountIn(p.ID, solana.PublicKey{}, ladder.QuoteIn, 5_000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, q.AmountOut, uint64(5_000))

	less, err := f.ex.Quote(p.ID, ladder.QuoteIn, in-1)
	if err == nil {
		require.Less(t, less.AmountOut, uint64(5_000))
	}
}

func TestConcurrentSwapsConserveReserves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out uint64
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := f.ex.Swap(ctx, SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 1_000})
			if err != nil {
				t.Errorf("swap: %v", err)
				return
			}
			mu.Lock()
			out += rec.OutAmount
			mu.Unlock()
		}()
	}
	wg.Wait()

	bins, err := f.ex.ListBins(p.ID)
	require.NoError(t, err)
	var base uint64
	for _, b := range bins {
		base += b.BaseReserve
	}
	require.Equal(t, uint64(1_000_000), base+out)
	require.Len(t, f.sink.kinds(), 3+32)
}

func TestTVLValuesReserves(t *testing.T) {
	f := newFixture(t)
	p := f.activePool(t)
	f.seed(t, p.ID, solana.NewWallet().PublicKey(), 1_000_000)

	tvl, err := f.ex.TVL(p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, tvl.Uint64())

	_, _, err = f.ex.Swap(context.Background(), SwapRequest{Pool: p.ID, Direction: ladder.QuoteIn, AmountIn: 10_000})
	require.NoError(t, err)
	tvl, err = f.ex.TVL(p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 990_025+9_995, tvl.Uint64())

	_, err = f.ex.TVL(solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, model.ErrPoolNotFound)
}
