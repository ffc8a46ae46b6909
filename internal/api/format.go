package api

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"binExchange/internal/exchange"
	"binExchange/internal/fixedpoint"
	"binExchange/internal/model"
)

const priceDigits = 18

var q64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), fixedpoint.ScaleOffset), 0)

// displayPrice renders a Q64.64 price as a decimal of quote units per base
// unit.
func displayPrice(price *uint256.Int) string {
	if price == nil {
		return "0"
	}
	return decimal.NewFromBigInt(price.ToBig(), 0).DivRound(q64, priceDigits).String()
}

// parsePrice turns a positive decimal into a Q64.64 price.
func parsePrice(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive: %w", model.ErrInvalidPoolConfig)
	}
	scaled := d.Mul(q64).Floor()
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("price %q: %w", s, fixedpoint.ErrOverflow)
	}
	if v.Lt(fixedpoint.MinPrice) || v.Gt(fixedpoint.MaxPrice) {
		return nil, fmt.Errorf("price %q outside representable range: %w", s, model.ErrInvalidPoolConfig)
	}
	return v, nil
}

type poolView struct {
	model.Pool
	Price    string  `json:"price"`
	TVLQuote *string `json:"tvl_quote,omitempty"`
}

func newPoolView(p model.Pool, tvl *uint256.Int) (poolView, error) {
	v := poolView{Pool: p}
	price, err := fixedpoint.BinPrice(p.BasePrice, p.BinStep, p.ActiveBinID)
	if err != nil {
		return poolView{}, err
	}
	v.Price = displayPrice(price)
	if tvl != nil {
		s := tvl.ToBig().String()
		v.TVLQuote = &s
	}
	return v, nil
}

type binView struct {
	exchange.BinView
	DisplayPrice string `json:"display_price"`
}
