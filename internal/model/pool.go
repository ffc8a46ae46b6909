package model

import (
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// PoolStatus is the lifecycle state of a pool.
type PoolStatus string

const (
	PoolBonded PoolStatus = "bonded"
	PoolActive PoolStatus = "active"
	PoolClosed PoolStatus = "closed"
)

// Pool is the configuration and lifecycle record of a single pair.
type Pool struct {
	ID          solana.PublicKey `json:"id"`
	BaseMint    solana.PublicKey `json:"base_mint"`
	QuoteMint   solana.PublicKey `json:"quote_mint"`
	Creator     solana.PublicKey `json:"creator"`
	BinStep     uint16           `json:"bin_step"`
	BaseFeeBps  uint32           `json:"base_fee_bps"`
	MinFeeBps   uint32           `json:"min_fee_bps"`
	MaxFeeBps   uint32           `json:"max_fee_bps"`
	BondAmount  uint64           `json:"bond_amount,string"`
	Status      PoolStatus       `json:"status"`
	Paused      bool             `json:"paused,omitempty"`
	ActiveBinID int32            `json:"active_bin_id"`
	BasePrice   *uint256.Int     `json:"base_price"`
	TotalVolume uint64           `json:"total_volume,string"`
	TotalFees   uint64           `json:"total_fees,string"`
	CreatedAt   int64            `json:"created_at"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Pool) Clone() Pool {
	out := p
	if p.BasePrice != nil {
		out.BasePrice = new(uint256.Int).Set(p.BasePrice)
	}
	return out
}

// OtherMint returns the output mint for a swap paying in the given mint.
func (p Pool) OtherMint(mint solana.PublicKey) solana.PublicKey {
	if mint.Equals(p.BaseMint) {
		return p.QuoteMint
	}
	return p.BaseMint
}
