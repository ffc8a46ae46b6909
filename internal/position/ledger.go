package position

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// Ledger records per-bin shares of every position in a pool. Like the bin
// ladder it is mutated on a Clone and committed by swapping pointers.
type Ledger struct {
	positions map[model.PositionKey]model.BinShares
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[model.PositionKey]model.BinShares)}
}

// Clone copies the ledger. Share values are never mutated in place.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{positions: make(map[model.PositionKey]model.BinShares, len(l.positions))}
	for k, s := range l.positions {
		out.positions[k] = s.Clone()
	}
	return out
}

// Credit adds shares to the position, creating it if needed.
func (l *Ledger) Credit(key model.PositionKey, shares model.BinShares) error {
	current := l.positions[key].Clone()
	for id, s := range shares {
		if s == nil || s.IsZero() {
			continue
		}
		if id < key.LowerBinID || id > key.UpperBinID {
			return fmt.Errorf("bin %d outside position %s: %w", id, key, model.ErrOutOfRange)
		}
		prev, ok := current[id]
		if !ok {
			current[id] = new(uint256.Int).Set(s)
			continue
		}
		sum, err := fixedpoint.Add(prev, s)
		if err != nil {
			return fmt.Errorf("credit bin %d: %w", id, err)
		}
		current[id] = sum
	}
	if len(current) > 0 {
		l.positions[key] = current
	}
	return nil
}

// Debit removes shares from the position. Nothing changes unless every bin
// holds enough. A position with no shares left is deleted.
func (l *Ledger) Debit(key model.PositionKey, shares model.BinShares) error {
	current, ok := l.positions[key]
	if !ok {
		return fmt.Errorf("position %s: %w", key, model.ErrInsufficientShares)
	}
	next := current.Clone()
	for id, s := range shares {
		if s == nil || s.IsZero() {
			continue
		}
		held, ok := next[id]
		if !ok || s.Gt(held) {
			return fmt.Errorf("position %s bin %d: %w", key, id, model.ErrInsufficientShares)
		}
		left := new(uint256.Int).Sub(held, s)
		if left.IsZero() {
			delete(next, id)
			continue
		}
		next[id] = left
	}
	if len(next) == 0 {
		delete(l.positions, key)
		return nil
	}
	l.positions[key] = next
	return nil
}

// Get returns a copy of the position.
func (l *Ledger) Get(key model.PositionKey) (model.LiquidityPosition, bool) {
	s, ok := l.positions[key]
	if !ok {
		return model.LiquidityPosition{}, false
	}
	return model.LiquidityPosition{Key: key, Shares: s.Clone()}, true
}

// SharesForBps returns bps/10_000 of every bin of the position, rounded down.
// 10_000 bps returns the full holding.
func (l *Ledger) SharesForBps(key model.PositionKey, bps uint32) (model.BinShares, error) {
	if bps == 0 || bps > fixedpoint.BasisPointMax {
		return nil, fmt.Errorf("bps %d: %w", bps, model.ErrInvalidAmount)
	}
	current, ok := l.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, model.ErrInsufficientShares)
	}
	if bps == fixedpoint.BasisPointMax {
		return current.Clone(), nil
	}
	out := make(model.BinShares, len(current))
	for id, s := range current {
		part, err := fixedpoint.MulDiv(s, uint256.NewInt(uint64(bps)), uint256.NewInt(fixedpoint.BasisPointMax), fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		if !part.IsZero() {
			out[id] = part
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bps %d of position rounds to zero: %w", bps, model.ErrInvalidAmount)
	}
	return out, nil
}

// ByOwner lists the owner's positions ordered by range.
func (l *Ledger) ByOwner(owner solana.PublicKey) []model.LiquidityPosition {
	var out []model.LiquidityPosition
	for k, s := range l.positions {
		if k.Owner.Equals(owner) {
			out = append(out, model.LiquidityPosition{Key: k, Shares: s.Clone()})
		}
	}
	sortPositions(out)
	return out
}

// All lists every position ordered by owner and range.
func (l *Ledger) All() []model.LiquidityPosition {
	out := make([]model.LiquidityPosition, 0, len(l.positions))
	for k, s := range l.positions {
		out = append(out, model.LiquidityPosition{Key: k, Shares: s.Clone()})
	}
	sortPositions(out)
	return out
}

func (l *Ledger) Len() int { return len(l.positions) }

func sortPositions(ps []model.LiquidityPosition) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i].Key, ps[j].Key
		if !a.Owner.Equals(b.Owner) {
			return a.Owner.String() < b.Owner.String()
		}
		if a.LowerBinID != b.LowerBinID {
			return a.LowerBinID < b.LowerBinID
		}
		return a.UpperBinID < b.UpperBinID
	})
}
