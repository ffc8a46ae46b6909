package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Scalar constants shared by price and fee math.
const (
	ScaleOffset   = 64
	BasisPointMax = 10_000
)

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrUnderflow      = errors.New("fixedpoint: underflow")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// Rounding selects the direction integer division rounds to.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// One returns 1.0 in Q64.64.
func One() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), ScaleOffset)
}

// MulDiv computes x*y/d with a 512-bit intermediate.
func MulDiv(x, y, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == RoundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if z, overflow = new(uint256.Int).AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// MulShr computes (x*y) >> offset.
func MulShr(x, y *uint256.Int, offset uint, rounding Rounding) (*uint256.Int, error) {
	denom := new(uint256.Int).Lsh(uint256.NewInt(1), offset)
	return MulDiv(x, y, denom, rounding)
}

// ShlDiv computes (x << offset) / y.
func ShlDiv(x, y *uint256.Int, offset uint, rounding Rounding) (*uint256.Int, error) {
	scale := new(uint256.Int).Lsh(uint256.NewInt(1), offset)
	return MulDiv(x, scale, y, rounding)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if b.Gt(a) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// ToUint64 narrows x, failing when it does not fit.
func ToUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds u64", ErrOverflow, x.Dec())
	}
	return x.Uint64(), nil
}

// AddUint64 adds two token amounts with overflow detection.
func AddUint64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubUint64 subtracts two token amounts with underflow detection.
func SubUint64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// ApplyBps returns amount*bps/10_000.
func ApplyBps(amount uint64, bps uint32, rounding Rounding) (uint64, error) {
	if bps > BasisPointMax {
		return 0, fmt.Errorf("bps %d above %d", bps, BasisPointMax)
	}
	z, err := MulDiv(uint256.NewInt(amount), uint256.NewInt(uint64(bps)), uint256.NewInt(BasisPointMax), rounding)
	if err != nil {
		return 0, err
	}
	return ToUint64(z)
}

// MulDivUint64 computes a*b/d over token amounts.
func MulDivUint64(a, b, d uint64, rounding Rounding) (uint64, error) {
	z, err := MulDiv(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d), rounding)
	if err != nil {
		return 0, err
	}
	return ToUint64(z)
}
