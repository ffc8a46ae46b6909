package ladder

import (
	"fmt"

	"github.com/holiman/uint256"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

// BinDeposit is the amount placed into a single bin by a deposit.
type BinDeposit struct {
	BinID  int32
	Base   uint64
	Quote  uint64
	Shares *uint256.Int
}

// Validate checks r against the ladder bounds.
func (l *Ladder) Validate(r Range) error {
	if r.Lower > r.Upper {
		return fmt.Errorf("range %d:%d inverted: %w", r.Lower, r.Upper, model.ErrOutOfRange)
	}
	if _, err := l.PriceAt(r.Lower); err != nil {
		return err
	}
	if _, err := l.PriceAt(r.Upper); err != nil {
		return err
	}
	return nil
}

// Distribute splits base over the bins of r at or above the active bin and
// quote over the bins at or below it. The integer remainder of each token
// goes to the eligible bin nearest the active bin.
func (l *Ladder) Distribute(r Range, base, quote uint64) ([]BinDeposit, error) {
	if err := l.Validate(r); err != nil {
		return nil, err
	}
	if base == 0 && quote == 0 {
		return nil, fmt.Errorf("empty deposit: %w", model.ErrInvalidAmount)
	}
	baseLo, baseHi := max(r.Lower, l.active), r.Upper
	quoteLo, quoteHi := r.Lower, min(r.Upper, l.active)
	if base > 0 && baseLo > baseHi {
		return nil, fmt.Errorf("base deposit needs bins at or above %d: %w", l.active, model.ErrOutOfRange)
	}
	if quote > 0 && quoteLo > quoteHi {
		return nil, fmt.Errorf("quote deposit needs bins at or below %d: %w", l.active, model.ErrOutOfRange)
	}

	out := make([]BinDeposit, 0, r.Upper-r.Lower+1)
	for id := r.Lower; id <= r.Upper; id++ {
		d := BinDeposit{BinID: id}
		if base > 0 && id >= baseLo {
			n := uint64(baseHi-baseLo) + 1
			d.Base = base / n
			if id == baseLo {
				d.Base += base % n
			}
		}
		if quote > 0 && id <= quoteHi {
			n := uint64(quoteHi-quoteLo) + 1
			d.Quote = quote / n
			if id == quoteHi {
				d.Quote += quote % n
			}
		}
		if d.Base == 0 && d.Quote == 0 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// DepositLiquidity distributes the amounts over r and mints shares per bin.
// The ladder is only modified when every bin succeeds.
func (l *Ladder) DepositLiquidity(r Range, base, quote uint64) ([]BinDeposit, error) {
	deposits, err := l.Distribute(r, base, quote)
	if err != nil {
		return nil, err
	}
	staged := make([]model.Bin, 0, len(deposits))
	for i := range deposits {
		d := &deposits[i]
		bin := l.ReserveAt(d.BinID)
		price, err := l.PriceAt(d.BinID)
		if err != nil {
			return nil, err
		}
		minted, err := mintShares(bin, d.Base, d.Quote, price)
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", d.BinID, err)
		}
		next := model.Bin{ID: d.BinID}
		if next.BaseReserve, err = fixedpoint.AddUint64(bin.BaseReserve, d.Base); err != nil {
			return nil, fmt.Errorf("bin %d base reserve: %w", d.BinID, err)
		}
		if next.QuoteReserve, err = fixedpoint.AddUint64(bin.QuoteReserve, d.Quote); err != nil {
			return nil, fmt.Errorf("bin %d quote reserve: %w", d.BinID, err)
		}
		if next.TotalShares, err = fixedpoint.Add(bin.TotalShares, minted); err != nil {
			return nil, fmt.Errorf("bin %d shares: %w", d.BinID, err)
		}
		d.Shares = minted
		staged = append(staged, next)
	}
	for _, b := range staged {
		l.put(b)
	}
	return deposits, nil
}

// mintShares prices a contribution against the bin's current value.
// Empty bins mint the contributed value in quote units. Otherwise the mint is
// T*v/V rounded down, with v and V both taken exactly at Q64.64 scale, so a
// deposit neither dilutes existing holders nor loses value to rounding.
func mintShares(bin model.Bin, base, quote uint64, price *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	if bin.IsEmpty() {
		v, err := value(base, quote, price, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		minted = v
	} else {
		v, err := scaledValue(base, quote, price)
		if err != nil {
			return nil, err
		}
		current, err := scaledValue(bin.BaseReserve, bin.QuoteReserve, price)
		if err != nil {
			return nil, err
		}
		if current.IsZero() {
			return nil, fmt.Errorf("bin has shares but no value: %w", model.ErrInvalidAmount)
		}
		if minted, err = fixedpoint.MulDiv(bin.TotalShares, v, current, fixedpoint.RoundDown); err != nil {
			return nil, err
		}
	}
	if minted.IsZero() {
		return nil, fmt.Errorf("deposit mints zero shares: %w", model.ErrInvalidAmount)
	}
	return minted, nil
}

// scaledValue is base*price + quote<<64, the unrounded bin value in Q64.64.
func scaledValue(base, quote uint64, price *uint256.Int) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(base), price)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	q := new(uint256.Int).Lsh(uint256.NewInt(quote), fixedpoint.ScaleOffset)
	return fixedpoint.Add(v, q)
}

// Redeem computes the reserves owed for shares without modifying the ladder.
func (l *Ladder) Redeem(shares model.BinShares) (base, quote uint64, err error) {
	for id, s := range shares {
		if s == nil || s.IsZero() {
			continue
		}
		b, q, err := l.redeemBin(id, s)
		if err != nil {
			return 0, 0, err
		}
		if base, err = fixedpoint.AddUint64(base, b); err != nil {
			return 0, 0, err
		}
		if quote, err = fixedpoint.AddUint64(quote, q); err != nil {
			return 0, 0, err
		}
	}
	return base, quote, nil
}

func (l *Ladder) redeemBin(id int32, s *uint256.Int) (uint64, uint64, error) {
	bin, ok := l.bins[id]
	if !ok || s.Gt(bin.TotalShares) {
		return 0, 0, fmt.Errorf("bin %d: %w", id, model.ErrInsufficientShares)
	}
	if s.Eq(bin.TotalShares) {
		return bin.BaseReserve, bin.QuoteReserve, nil
	}
	b, err := fixedpoint.MulDiv(s, uint256.NewInt(bin.BaseReserve), bin.TotalShares, fixedpoint.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	q, err := fixedpoint.MulDiv(s, uint256.NewInt(bin.QuoteReserve), bin.TotalShares, fixedpoint.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	// Both fit: s < T bounds them by the reserves.
	return b.Uint64(), q.Uint64(), nil
}

// WithdrawLiquidity burns shares and returns the reserves they redeem.
// Bins whose shares reach zero are removed.
func (l *Ladder) WithdrawLiquidity(shares model.BinShares) (base, quote uint64, err error) {
	if base, quote, err = l.Redeem(shares); err != nil {
		return 0, 0, err
	}
	for id, s := range shares {
		if s == nil || s.IsZero() {
			continue
		}
		bin := l.bins[id]
		b, q, _ := l.redeemBin(id, s)
		left := new(uint256.Int).Sub(bin.TotalShares, s)
		if left.IsZero() {
			l.remove(id)
			continue
		}
		l.put(model.Bin{
			ID:           id,
			BaseReserve:  bin.BaseReserve - b,
			QuoteReserve: bin.QuoteReserve - q,
			TotalShares:  left,
		})
	}
	return base, quote, nil
}
