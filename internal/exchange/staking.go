package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/model"
)

// Staking and harvest state lives outside the pool locks and cannot be
// staged, so these operations commit first and append afterwards. A failed
// append is logged and returned; the state change stands.

// Stake locks amount for owner.
func (e *Exchange) Stake(ctx context.Context, owner solana.PublicKey, amount uint64) (model.StakeAccount, error) {
	acc, err := e.staking.Stake(owner, amount, e.now().Unix())
	if err != nil {
		return model.StakeAccount{}, err
	}
	return acc, e.emitStake(ctx, model.EventStaked, owner, amount, acc.Tier)
}

// Unstake releases amount for owner.
func (e *Exchange) Unstake(ctx context.Context, owner solana.PublicKey, amount uint64) (model.StakeAccount, error) {
	acc, err := e.staking.Unstake(owner, amount, e.now().Unix())
	if err != nil {
		return model.StakeAccount{}, err
	}
	return acc, e.emitStake(ctx, model.EventUnstaked, owner, amount, acc.Tier)
}

// Claim pays out the owner's accrued rewards.
func (e *Exchange) Claim(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	paid, err := e.staking.Claim(owner, e.now().Unix())
	if err != nil || paid == 0 {
		return paid, err
	}
	return paid, e.emitStake(ctx, model.EventRewardsClaimed, owner, paid, e.staking.Tier(owner).Index)
}

func (e *Exchange) emitStake(ctx context.Context, kind model.EventKind, owner solana.PublicKey, amount uint64, tier uint8) error {
	ev, err := e.newEvent(kind, solana.PublicKey{}, e.now().Unix(), model.StakeData{Owner: owner, Amount: amount, Tier: tier})
	if err == nil {
		err = e.emit(ctx, ev)
	}
	if err != nil {
		e.logger.Error("staking event not recorded", zap.String("kind", string(kind)), zap.String("owner", owner.String()), zap.Error(err))
		return fmt.Errorf("%s committed: %w", kind, err)
	}
	return nil
}

// Harvest converts the accumulated fees of mint. It returns nil when there
// is nothing to harvest.
func (e *Exchange) Harvest(ctx context.Context, mint solana.PublicKey) (*model.BuybackRecord, error) {
	rec, err := e.treasury.Harvest(ctx, mint)
	if err != nil || rec == nil {
		return rec, err
	}
	if err := e.recordHarvest(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// HarvestAll harvests every mint with a balance.
func (e *Exchange) HarvestAll(ctx context.Context) ([]model.BuybackRecord, error) {
	recs, err := e.treasury.HarvestAll(ctx)
	for i := range recs {
		if rerr := e.recordHarvest(ctx, &recs[i]); rerr != nil && err == nil {
			err = rerr
		}
	}
	return recs, err
}

func (e *Exchange) recordHarvest(ctx context.Context, rec *model.BuybackRecord) error {
	seq := e.seq.Add(1)
	rec.EventID = model.NewEventID(e.source, seq)
	ev, err := model.NewEvent(e.source, seq, model.EventHarvested, solana.PublicKey{}, rec.Timestamp, rec)
	if err == nil {
		err = e.emit(ctx, ev)
	}
	if err != nil {
		e.logger.Error("harvest event not recorded", zap.String("mint", rec.Mint.String()), zap.Error(err))
		return fmt.Errorf("harvest %s committed: %w", rec.Mint, err)
	}
	return nil
}
