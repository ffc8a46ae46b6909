package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Representable Q64.64 price bounds. Below MinPrice adjacent bins can round
// to the same value; above MaxPrice amount*price may leave 256 bits.
var (
	MinPrice = new(uint256.Int).Lsh(uint256.NewInt(1), 32)
	MaxPrice = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
)

// PriceFromRatio builds a Q64.64 price of num/den quote units per base unit.
func PriceFromRatio(num, den uint64) (*uint256.Int, error) {
	if den == 0 {
		return nil, ErrDivisionByZero
	}
	price, err := ShlDiv(uint256.NewInt(num), uint256.NewInt(den), ScaleOffset, RoundDown)
	if err != nil {
		return nil, err
	}
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	return price, nil
}

// BinPrice returns basePrice * (1 + binStep/10_000)^binID in Q64.64.
func BinPrice(basePrice *uint256.Int, binStep uint16, binID int32) (*uint256.Int, error) {
	if binStep == 0 {
		return nil, fmt.Errorf("bin step must be > 0")
	}
	one := One()

	// ratio = ONE + (binStep << 64) / BASIS_POINT_MAX
	bps, err := ShlDiv(uint256.NewInt(uint64(binStep)), uint256.NewInt(BasisPointMax), ScaleOffset, RoundDown)
	if err != nil {
		return nil, err
	}
	ratio := new(uint256.Int).Add(one, bps)

	exp := int64(binID)
	negative := exp < 0
	if negative {
		exp = -exp
	}

	factor, err := pow(ratio, uint64(exp))
	if err != nil {
		return nil, err
	}
	if negative {
		// factor = ONE*ONE / factor
		factor, err = MulDiv(one, one, factor, RoundDown)
		if err != nil {
			return nil, err
		}
	}

	price, err := MulShr(basePrice, factor, ScaleOffset, RoundDown)
	if err != nil {
		return nil, err
	}
	if err := checkPrice(price); err != nil {
		return nil, fmt.Errorf("bin %d: %w", binID, err)
	}
	return price, nil
}

// pow raises a Q64.64 base to an integer exponent by squaring.
func pow(base *uint256.Int, exp uint64) (*uint256.Int, error) {
	result := One()
	current := new(uint256.Int).Set(base)
	for exp > 0 {
		var err error
		if exp&1 == 1 {
			if result, err = MulShr(result, current, ScaleOffset, RoundDown); err != nil {
				return nil, err
			}
			if result.Gt(MaxPrice) {
				return nil, ErrOverflow
			}
		}
		exp >>= 1
		if exp == 0 {
			break
		}
		if current, err = MulShr(current, current, ScaleOffset, RoundDown); err != nil {
			return nil, err
		}
		if current.Gt(MaxPrice) {
			return nil, ErrOverflow
		}
	}
	return result, nil
}

func checkPrice(price *uint256.Int) error {
	if price.Lt(MinPrice) {
		return fmt.Errorf("%w: price below minimum", ErrUnderflow)
	}
	if price.Gt(MaxPrice) {
		return fmt.Errorf("%w: price above maximum", ErrOverflow)
	}
	return nil
}

// QuoteValue converts a base amount into quote units at price: amount*price >> 64.
func QuoteValue(baseAmount uint64, price *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulShr(uint256.NewInt(baseAmount), price, ScaleOffset, rounding)
}

// BaseValue converts a quote amount into base units at price: (amount << 64) / price.
func BaseValue(quoteAmount uint64, price *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return ShlDiv(uint256.NewInt(quoteAmount), price, ScaleOffset, rounding)
}
