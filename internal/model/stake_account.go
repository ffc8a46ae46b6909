package model

import (
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// StakeAccount tracks one owner's stake and reward accrual.
type StakeAccount struct {
	Owner           solana.PublicKey `json:"owner"`
	StakedAmount    uint64           `json:"staked_amount,string"`
	Tier            uint8            `json:"tier"`
	PendingRewards  uint64           `json:"pending_rewards,string"`
	RewardDebt      *uint256.Int     `json:"reward_debt"`
	LastAccrualTime int64            `json:"last_accrual_time"`
}

// StakingTotals summarizes the staking pool.
type StakingTotals struct {
	TotalStaked      uint64 `json:"total_staked,string"`
	Stakers          int    `json:"stakers"`
	Undistributed    uint64 `json:"undistributed,string"`
	TotalDistributed uint64 `json:"total_distributed,string"`
}
