package ladder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// Direction is the side the trader pays in.
type Direction uint8

const (
	// QuoteIn pays quote and receives base; price moves up.
	QuoteIn Direction = iota
	// BaseIn pays base and receives quote; price moves down.
	BaseIn
)

func (d Direction) String() string {
	if d == BaseIn {
		return "base_in"
	}
	return "quote_in"
}

// Step is the bin id increment in the direction of price movement.
func (d Direction) Step() int32 {
	if d == BaseIn {
		return -1
	}
	return 1
}

// ParseDirection maps a wire string to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "quote_in", "buy":
		return QuoteIn, nil
	case "base_in", "sell":
		return BaseIn, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Token selects a reserve side of a bin.
type Token uint8

const (
	Base Token = iota
	Quote
)

// InputToken is the token a swap in direction d pays with.
func (d Direction) InputToken() Token {
	if d == BaseIn {
		return Base
	}
	return Quote
}

// Range is an inclusive bin id range.
type Range struct {
	Lower int32 `json:"lower_bin_id"`
	Upper int32 `json:"upper_bin_id"`
}

// Config fixes the price curve of a ladder.
type Config struct {
	BasePrice    *uint256.Int
	BinStep      uint16
	ActiveBinID  int32
	MaxBinOffset int32
}

// Ladder holds the bins of one pool. A Ladder is not safe for concurrent
// mutation; callers mutate a Clone and swap it in.
type Ladder struct {
	basePrice *uint256.Int
	binStep   uint16
	maxOffset int32
	active    int32

	bins map[int32]model.Bin
	ids  []int32
}

// New validates cfg and returns an empty ladder.
func New(cfg Config) (*Ladder, error) {
	if cfg.BasePrice == nil || cfg.BasePrice.IsZero() {
		return nil, errors.New("base price is required")
	}
	if cfg.BinStep == 0 || cfg.BinStep > fixedpoint.BasisPointMax {
		return nil, fmt.Errorf("invalid bin step %d", cfg.BinStep)
	}
	if cfg.MaxBinOffset <= 0 {
		return nil, fmt.Errorf("invalid max bin offset %d", cfg.MaxBinOffset)
	}
	l := &Ladder{
		basePrice: new(uint256.Int).Set(cfg.BasePrice),
		binStep:   cfg.BinStep,
		maxOffset: cfg.MaxBinOffset,
		bins:      make(map[int32]model.Bin),
	}
	if err := l.SetActiveBin(cfg.ActiveBinID); err != nil {
		return nil, err
	}
	return l, nil
}

// Clone returns an independent copy. Bin share values are immutable and shared.
func (l *Ladder) Clone() *Ladder {
	out := &Ladder{
		basePrice: l.basePrice,
		binStep:   l.binStep,
		maxOffset: l.maxOffset,
		active:    l.active,
		bins:      make(map[int32]model.Bin, len(l.bins)),
		ids:       append([]int32(nil), l.ids...),
	}
	for id, b := range l.bins {
		out.bins[id] = b
	}
	return out
}

func (l *Ladder) ActiveBinID() int32 { return l.active }
func (l *Ladder) BinStep() uint16    { return l.binStep }

// BasePrice returns a copy of the bin 0 price.
func (l *Ladder) BasePrice() *uint256.Int { return new(uint256.Int).Set(l.basePrice) }

// SetActiveBin moves the active bin. The id must have a representable price.
func (l *Ladder) SetActiveBin(id int32) error {
	if _, err := l.PriceAt(id); err != nil {
		return err
	}
	l.active = id
	return nil
}

// PriceAt returns the Q64.64 price of bin id.
func (l *Ladder) PriceAt(id int32) (*uint256.Int, error) {
	if id > l.maxOffset || id < -l.maxOffset {
		return nil, fmt.Errorf("bin %d beyond offset %d: %w", id, l.maxOffset, model.ErrOutOfRange)
	}
	price, err := fixedpoint.BinPrice(l.basePrice, l.binStep, id)
	if err != nil {
		return nil, fmt.Errorf("price bin %d: %v: %w", id, err, model.ErrOutOfRange)
	}
	return price, nil
}

// ReserveAt returns bin id, or an empty bin when nothing is deposited there.
func (l *Ladder) ReserveAt(id int32) model.Bin {
	if b, ok := l.bins[id]; ok {
		return b
	}
	return model.Bin{ID: id, TotalShares: new(uint256.Int)}
}

// Bins returns the non-empty bins in ascending id order.
func (l *Ladder) Bins() []model.Bin {
	out := make([]model.Bin, 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.bins[id])
	}
	return out
}

// HasLiquidity reports whether any bin carries shares.
func (l *Ladder) HasLiquidity() bool { return len(l.ids) > 0 }

// TotalReserves sums reserves across bins.
func (l *Ladder) TotalReserves() (base, quote uint64, err error) {
	for _, id := range l.ids {
		b := l.bins[id]
		if base, err = fixedpoint.AddUint64(base, b.BaseReserve); err != nil {
			return 0, 0, err
		}
		if quote, err = fixedpoint.AddUint64(quote, b.QuoteReserve); err != nil {
			return 0, 0, err
		}
	}
	return base, quote, nil
}

// NextLiquidBin finds the first bin at or beyond from, walking in direction d,
// that still holds the token a swap in d pays out.
func (l *Ladder) NextLiquidBin(from int32, d Direction) (int32, bool) {
	if d == QuoteIn {
		i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= from })
		for ; i < len(l.ids); i++ {
			if l.bins[l.ids[i]].BaseReserve > 0 {
				return l.ids[i], true
			}
		}
		return 0, false
	}
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] > from }) - 1
	for ; i >= 0; i-- {
		if l.bins[l.ids[i]].QuoteReserve > 0 {
			return l.ids[i], true
		}
	}
	return 0, false
}

func (l *Ladder) put(b model.Bin) {
	_, exists := l.bins[b.ID]
	l.bins[b.ID] = b
	if exists {
		return
	}
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= b.ID })
	l.ids = append(l.ids, 0)
	copy(l.ids[i+1:], l.ids[i:])
	l.ids[i] = b.ID
}

func (l *Ladder) remove(id int32) {
	if _, ok := l.bins[id]; !ok {
		return
	}
	delete(l.bins, id)
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	if i < len(l.ids) && l.ids[i] == id {
		l.ids = append(l.ids[:i], l.ids[i+1:]...)
	}
}

// value prices a reserve pair in quote units at price.
func value(base, quote uint64, price *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	v, err := fixedpoint.QuoteValue(base, price, rounding)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(v, uint256.NewInt(quote))
}
