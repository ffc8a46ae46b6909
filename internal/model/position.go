package model

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// PositionKey identifies a liquidity position.
type PositionKey struct {
	Pool       solana.PublicKey `json:"pool"`
	Owner      solana.PublicKey `json:"owner"`
	LowerBinID int32            `json:"lower_bin_id"`
	UpperBinID int32            `json:"upper_bin_id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s/%d:%d", k.Pool, k.Owner, k.LowerBinID, k.UpperBinID)
}

// BinShares maps bin id to share amount.
type BinShares map[int32]*uint256.Int

// Clone copies the map. Share values are immutable once stored.
func (s BinShares) Clone() BinShares {
	out := make(BinShares, len(s))
	for id, v := range s {
		out[id] = v
	}
	return out
}

// LiquidityPosition is a provider's share holdings across a bin range.
type LiquidityPosition struct {
	Key    PositionKey `json:"key"`
	Shares BinShares   `json:"shares"`
}
