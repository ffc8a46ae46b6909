package storage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"binExchange/internal/model"
)

// Storage defines a sink for event batches.
type Storage interface {
	PutEventBatch(ctx context.Context, events []model.Event) error
}

// Fanout writes each batch to every sink in order and stops at the first
// failure.
type Fanout []Storage

func (f Fanout) PutEventBatch(ctx context.Context, events []model.Event) error {
	for i, s := range f {
		if err := s.PutEventBatch(ctx, events); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// IDSet records applied event ids.
type IDSet interface {
	// Add marks id and reports whether it was not present before.
	Add(ctx context.Context, id common.Hash) (bool, error)
	Has(ctx context.Context, id common.Hash) (bool, error)
}

// PageQuery selects records after a cursor. A zero Pool matches all pools.
type PageQuery struct {
	Pool  solana.PublicKey
	After uint64
	Limit int
}

// Page is one batch of records. Next is the cursor of the last item.
type Page[T any] struct {
	Items []T
	Next  uint64
	More  bool
}

// RecordStore persists append-only records and the pool projection. Puts
// keyed by event id ignore duplicates.
type RecordStore interface {
	PutSwaps(ctx context.Context, swaps []model.SwapRecord) error
	PutFees(ctx context.Context, fees []model.FeeRecord) error
	PutBuybacks(ctx context.Context, buybacks []model.BuybackRecord) error
	UpsertPools(ctx context.Context, pools []model.Pool) error
	GetPool(ctx context.Context, id solana.PublicKey) (model.Pool, bool, error)
	ListPools(ctx context.Context) ([]model.Pool, error)
	ListSwaps(ctx context.Context, q PageQuery) (Page[model.SwapRecord], error)
	ListBuybacks(ctx context.Context, q PageQuery) (Page[model.BuybackRecord], error)
	SwapsBetween(ctx context.Context, pool solana.PublicKey, start, end int64) ([]model.SwapRecord, error)
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	return min(limit, MaxPageLimit)
}
