package aggregate

import (
	"fmt"
	"math/big"

	"binExchange/internal/indexer"
	"binExchange/internal/model"
)

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	Pool        model.Pool
	WindowStart int64
	WindowEnd   int64
	SwapCount   uint64
	VolumeBase  *big.Int
	VolumeQuote *big.Int
	FeeBase     *big.Int
	FeeQuote    *big.Int
	// FeeValue is every fee of the window valued in quote units.
	FeeValue  *big.Int
	LastTS    int64
	Estimated bool
}

func NewAccumulator(pool model.Pool, windowStart, windowEnd int64) *Accumulator {
	return &Accumulator{
		Pool:        pool,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		VolumeBase:  big.NewInt(0),
		VolumeQuote: big.NewInt(0),
		FeeBase:     big.NewInt(0),
		FeeQuote:    big.NewInt(0),
		FeeValue:    big.NewInt(0),
	}
}

func (a *Accumulator) AddSwap(rec model.SwapRecord) error {
	if rec.Timestamp < a.WindowStart || rec.Timestamp >= a.WindowEnd {
		return fmt.Errorf("swap %s at %d outside window [%d, %d)", rec.EventID.Hex(), rec.Timestamp, a.WindowStart, a.WindowEnd)
	}
	fee, err := indexer.SwapFee(rec)
	if err != nil {
		return err
	}
	_, value, err := indexer.SwapQuoteFlows(a.Pool, rec)
	if err != nil {
		return err
	}

	in := new(big.Int).SetUint64(rec.InAmount)
	out := new(big.Int).SetUint64(rec.OutAmount)
	switch {
	case rec.InMint.Equals(a.Pool.QuoteMint):
		a.VolumeQuote.Add(a.VolumeQuote, in)
		a.VolumeBase.Add(a.VolumeBase, out)
		a.FeeQuote.Add(a.FeeQuote, new(big.Int).SetUint64(fee))
	case rec.InMint.Equals(a.Pool.BaseMint):
		a.VolumeBase.Add(a.VolumeBase, in)
		a.VolumeQuote.Add(a.VolumeQuote, out)
		a.FeeBase.Add(a.FeeBase, new(big.Int).SetUint64(fee))
	default:
		return fmt.Errorf("swap %s input mint %s not in pool %s", rec.EventID.Hex(), rec.InMint, a.Pool.ID)
	}
	a.FeeValue.Add(a.FeeValue, new(big.Int).SetUint64(value))
	if rec.LPFee == 0 && rec.ProtocolFee > 0 {
		a.Estimated = true
	}
	if rec.Timestamp > a.LastTS {
		a.LastTS = rec.Timestamp
	}
	a.SwapCount++
	return nil
}
