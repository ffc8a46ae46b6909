package feetier

import (
	"fmt"
	"math"
	"sort"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// Tier is one step of the stake-to-discount table.
type Tier struct {
	Index       uint8  `json:"index" mapstructure:"-"`
	Threshold   uint64 `json:"threshold,string" mapstructure:"threshold"`
	DiscountBps uint32 `json:"discount_bps" mapstructure:"discount_bps"`
}

// Table resolves stake amounts to tiers. It is immutable after construction.
type Table struct {
	tiers []Tier
}

// DefaultTiers returns thresholds of 0, 1,000, 10,000 and 100,000 whole
// tokens at the given mint decimals, discounting 0, 5, 10 and 15 bps.
func DefaultTiers(decimals uint8) []Tier {
	unit := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		unit *= 10
	}
	return []Tier{
		{Threshold: 0, DiscountBps: 0},
		{Threshold: 1_000 * unit, DiscountBps: 5},
		{Threshold: 10_000 * unit, DiscountBps: 10},
		{Threshold: 100_000 * unit, DiscountBps: 15},
	}
}

// NewTable validates tiers: thresholds strictly ascending starting at zero.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("empty table: %w", model.ErrInvalidTierTable)
	}
	if len(tiers) > math.MaxUint8+1 {
		return nil, fmt.Errorf("%d tiers: %w", len(tiers), model.ErrInvalidTierTable)
	}
	if tiers[0].Threshold != 0 {
		return nil, fmt.Errorf("first threshold %d, want 0: %w", tiers[0].Threshold, model.ErrInvalidTierTable)
	}
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		if i > 0 && t.Threshold <= tiers[i-1].Threshold {
			return nil, fmt.Errorf("threshold %d not above %d: %w", t.Threshold, tiers[i-1].Threshold, model.ErrInvalidTierTable)
		}
		if t.DiscountBps > fixedpoint.BasisPointMax {
			return nil, fmt.Errorf("discount %d bps: %w", t.DiscountBps, model.ErrInvalidTierTable)
		}
		t.Index = uint8(i)
		out[i] = t
	}
	return &Table{tiers: out}, nil
}

// Resolve returns the highest tier whose threshold staked reaches.
func (t *Table) Resolve(staked uint64) Tier {
	i := sort.Search(len(t.tiers), func(i int) bool { return t.tiers[i].Threshold > staked })
	return t.tiers[i-1]
}

// Tiers returns a copy of the table.
func (t *Table) Tiers() []Tier {
	return append([]Tier(nil), t.tiers...)
}
