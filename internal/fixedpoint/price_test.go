package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestBinPriceZeroIsBase(t *testing.T) {
	base := One()
	price, err := BinPrice(base, 10, 0)
	if err != nil {
		t.Fatalf("bin price: %v", err)
	}
	if !price.Eq(base) {
		t.Fatalf("bin 0 must equal base price, got %s", price.Dec())
	}
}

func TestBinPriceStrictlyIncreasing(t *testing.T) {
	base := One()
	for _, step := range []uint16{1, 10, 25, 100} {
		prev, err := BinPrice(base, step, -200)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		for id := int32(-199); id <= 200; id++ {
			price, err := BinPrice(base, step, id)
			if err != nil {
				t.Fatalf("step %d bin %d: %v", step, id, err)
			}
			if !price.Gt(prev) {
				t.Fatalf("step %d: price(%d)=%s not above price(%d)=%s", step, id, price.Dec(), id-1, prev.Dec())
			}
			prev = price
		}
	}
}

func TestBinPriceOneStep(t *testing.T) {
	// 1.001 in Q64.64 is ONE + ONE*10/10000.
	price, err := BinPrice(One(), 10, 1)
	if err != nil {
		t.Fatalf("bin price: %v", err)
	}
	bps, _ := ShlDiv(uint256.NewInt(10), uint256.NewInt(BasisPointMax), ScaleOffset, RoundDown)
	want := new(uint256.Int).Add(One(), bps)
	if !price.Eq(want) {
		t.Fatalf("expected %s, got %s", want.Dec(), price.Dec())
	}
}

func TestBinPriceOutOfRange(t *testing.T) {
	if _, err := BinPrice(One(), 100, 20_000); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := BinPrice(One(), 100, -20_000); err == nil {
		t.Fatalf("expected error for tiny price")
	}
	if _, err := BinPrice(One(), 0, 1); err == nil {
		t.Fatalf("expected error for zero bin step")
	}
}

func TestPriceFromRatio(t *testing.T) {
	price, err := PriceFromRatio(3, 2)
	if err != nil {
		t.Fatalf("price from ratio: %v", err)
	}
	quote, err := QuoteValue(1000, price, RoundDown)
	if err != nil {
		t.Fatalf("quote value: %v", err)
	}
	if quote.Uint64() != 1500 {
		t.Fatalf("expected 1500, got %s", quote.Dec())
	}
	base, err := BaseValue(1500, price, RoundUp)
	if err != nil {
		t.Fatalf("base value: %v", err)
	}
	if base.Uint64() != 1000 {
		t.Fatalf("expected 1000, got %s", base.Dec())
	}
	if _, err := PriceFromRatio(1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}
