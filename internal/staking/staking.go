package staking

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"binExchange/internal/feetier"
	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// Pool holds every stake account and a global reward-per-staked-unit index
// in Q64. Rewards sent while nothing is staked are carried until someone stakes.
type Pool struct {
	mu sync.RWMutex

	tiers    *feetier.Table
	logger   *zap.Logger
	accounts map[solana.PublicKey]*model.StakeAccount

	totalStaked uint64
	index       *uint256.Int
	carried     uint64
	distributed uint64
}

func NewPool(tiers *feetier.Table, logger *zap.Logger) (*Pool, error) {
	if tiers == nil {
		return nil, fmt.Errorf("tier table is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		tiers:    tiers,
		logger:   logger,
		accounts: make(map[solana.PublicKey]*model.StakeAccount),
		index:    new(uint256.Int),
	}, nil
}

// Stake adds amount to the owner's stake.
func (p *Pool) Stake(owner solana.PublicKey, amount uint64, now int64) (model.StakeAccount, error) {
	if amount == 0 {
		return model.StakeAccount{}, fmt.Errorf("stake zero: %w", model.ErrInvalidAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	total, err := fixedpoint.AddUint64(p.totalStaked, amount)
	if err != nil {
		return model.StakeAccount{}, fmt.Errorf("total staked: %w", err)
	}
	acc := p.accounts[owner]
	if acc == nil {
		acc = &model.StakeAccount{Owner: owner, RewardDebt: new(uint256.Int)}
	}
	staked, err := fixedpoint.AddUint64(acc.StakedAmount, amount)
	if err != nil {
		return model.StakeAccount{}, fmt.Errorf("stake amount: %w", err)
	}
	next, err := p.settled(acc, now)
	if err != nil {
		return model.StakeAccount{}, err
	}
	p.accounts[owner] = next
	p.totalStaked = total
	p.rebase(next, staked)

	if p.carried > 0 {
		if err := p.distributeLocked(0); err != nil {
			return model.StakeAccount{}, err
		}
	}
	return p.snapshotLocked(next), nil
}

// Unstake removes amount from the owner's stake, keeping accrued rewards claimable.
func (p *Pool) Unstake(owner solana.PublicKey, amount uint64, now int64) (model.StakeAccount, error) {
	if amount == 0 {
		return model.StakeAccount{}, fmt.Errorf("unstake zero: %w", model.ErrInvalidAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.accounts[owner]
	if acc == nil || acc.StakedAmount < amount {
		return model.StakeAccount{}, fmt.Errorf("unstake %d: %w", amount, model.ErrInsufficientStake)
	}
	next, err := p.settled(acc, now)
	if err != nil {
		return model.StakeAccount{}, err
	}
	p.totalStaked -= amount
	p.rebase(next, acc.StakedAmount-amount)
	p.store(next)
	return p.snapshotLocked(next), nil
}

// Claim pays out the owner's accrued rewards.
func (p *Pool) Claim(owner solana.PublicKey, now int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.accounts[owner]
	if acc == nil {
		return 0, nil
	}
	next, err := p.settled(acc, now)
	if err != nil {
		return 0, err
	}
	paid := next.PendingRewards
	next.PendingRewards = 0
	p.store(next)
	return paid, nil
}

// Distribute spreads amount over current stakers pro-rata.
func (p *Pool) Distribute(amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.distributeLocked(amount)
}

func (p *Pool) distributeLocked(amount uint64) error {
	pot, err := fixedpoint.AddUint64(p.carried, amount)
	if err != nil {
		return fmt.Errorf("carried rewards: %w", err)
	}
	if pot == 0 {
		return nil
	}
	if p.totalStaked == 0 {
		p.carried = pot
		p.logger.Debug("rewards carried", zap.Uint64("amount", pot))
		return nil
	}
	delta, err := fixedpoint.ShlDiv(uint256.NewInt(pot), uint256.NewInt(p.totalStaked), fixedpoint.ScaleOffset, fixedpoint.RoundDown)
	if err != nil {
		return fmt.Errorf("reward index delta: %w", err)
	}
	index, err := fixedpoint.Add(p.index, delta)
	if err != nil {
		return fmt.Errorf("reward index: %w", err)
	}
	p.index = index
	p.carried = 0
	p.distributed += pot
	p.logger.Debug("rewards distributed", zap.Uint64("amount", pot), zap.String("index", index.Dec()))
	return nil
}

// Account returns the owner's account with rewards accrued up to now.
func (p *Pool) Account(owner solana.PublicKey) (model.StakeAccount, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acc := p.accounts[owner]
	if acc == nil {
		return model.StakeAccount{}, false
	}
	return p.snapshotLocked(acc), true
}

// Tier resolves the owner's current tier.
func (p *Pool) Tier(owner solana.PublicKey) feetier.Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var staked uint64
	if acc := p.accounts[owner]; acc != nil {
		staked = acc.StakedAmount
	}
	return p.tiers.Resolve(staked)
}

// DiscountBps is the fee discount the owner's tier grants.
func (p *Pool) DiscountBps(owner solana.PublicKey) uint32 {
	return p.Tier(owner).DiscountBps
}

func (p *Pool) Totals() model.StakingTotals {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stakers := 0
	for _, acc := range p.accounts {
		if acc.StakedAmount > 0 {
			stakers++
		}
	}
	return model.StakingTotals{
		TotalStaked:      p.totalStaked,
		Stakers:          stakers,
		Undistributed:    p.carried,
		TotalDistributed: p.distributed,
	}
}

// settled returns a copy of acc with rewards up to the current index moved
// into PendingRewards.
func (p *Pool) settled(acc *model.StakeAccount, now int64) (*model.StakeAccount, error) {
	pending, err := p.pending(acc)
	if err != nil {
		return nil, err
	}
	next := *acc
	next.PendingRewards = pending
	next.RewardDebt = p.debtFor(acc.StakedAmount)
	next.LastAccrualTime = now
	return &next, nil
}

func (p *Pool) pending(acc *model.StakeAccount) (uint64, error) {
	accrued := new(uint256.Int).Mul(uint256.NewInt(acc.StakedAmount), p.index)
	if accrued.Lt(acc.RewardDebt) {
		return acc.PendingRewards, nil
	}
	owed := new(uint256.Int).Rsh(new(uint256.Int).Sub(accrued, acc.RewardDebt), fixedpoint.ScaleOffset)
	fresh, err := fixedpoint.ToUint64(owed)
	if err != nil {
		return 0, fmt.Errorf("pending rewards: %w", err)
	}
	total, err := fixedpoint.AddUint64(acc.PendingRewards, fresh)
	if err != nil {
		return 0, fmt.Errorf("pending rewards: %w", err)
	}
	return total, nil
}

func (p *Pool) rebase(acc *model.StakeAccount, staked uint64) {
	acc.StakedAmount = staked
	acc.RewardDebt = p.debtFor(staked)
	acc.Tier = p.tiers.Resolve(staked).Index
}

func (p *Pool) debtFor(staked uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(staked), p.index)
}

func (p *Pool) store(acc *model.StakeAccount) {
	if acc.StakedAmount == 0 && acc.PendingRewards == 0 {
		delete(p.accounts, acc.Owner)
		return
	}
	p.accounts[acc.Owner] = acc
}

func (p *Pool) snapshotLocked(acc *model.StakeAccount) model.StakeAccount {
	out := *acc
	if pending, err := p.pending(acc); err == nil {
		out.PendingRewards = pending
	}
	out.RewardDebt = new(uint256.Int).Set(acc.RewardDebt)
	return out
}
