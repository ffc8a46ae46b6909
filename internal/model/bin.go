package model

import "github.com/holiman/uint256"

// Bin is one discrete price level of a pool. Its price is derived from the
// pool's base price and bin step and is never stored.
type Bin struct {
	ID           int32        `json:"bin_id"`
	BaseReserve  uint64       `json:"base_reserve,string"`
	QuoteReserve uint64       `json:"quote_reserve,string"`
	TotalShares  *uint256.Int `json:"total_shares"`
}

// IsEmpty reports whether the bin carries no shares.
func (b Bin) IsEmpty() bool {
	return b.TotalShares == nil || b.TotalShares.IsZero()
}
