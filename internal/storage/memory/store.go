package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"binExchange/internal/model"
	"binExchange/internal/storage"
)

// IDSet is an in-process applied-id set.
type IDSet struct {
	mu  sync.Mutex
	ids map[common.Hash]struct{}
}

func NewIDSet() *IDSet {
	return &IDSet{ids: make(map[common.Hash]struct{})}
}

func (s *IDSet) Add(_ context.Context, id common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}
	return true, nil
}

func (s *IDSet) Has(_ context.Context, id common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

// Store keeps records in append order. Cursors are 1-based positions in the
// append log.
type Store struct {
	mu       sync.RWMutex
	seen     map[common.Hash]struct{}
	swaps    []model.SwapRecord
	fees     []model.FeeRecord
	buybacks []model.BuybackRecord
	pools    map[solana.PublicKey]model.Pool
	windows  map[windowKey]model.PoolWindowMetrics
}

type windowKey struct {
	pool  solana.PublicKey
	size  int64
	start int64
}

func NewStore() *Store {
	return &Store{
		seen:    make(map[common.Hash]struct{}),
		pools:   make(map[solana.PublicKey]model.Pool),
		windows: make(map[windowKey]model.PoolWindowMetrics),
	}
}

var _ storage.RecordStore = (*Store)(nil)

// fresh must be called with s.mu held.
func (s *Store) fresh(id common.Hash) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *Store) PutSwaps(_ context.Context, swaps []model.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range swaps {
		if s.fresh(r.EventID) {
			s.swaps = append(s.swaps, r)
		}
	}
	return nil
}

func (s *Store) PutFees(_ context.Context, fees []model.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range fees {
		if s.fresh(r.EventID) {
			s.fees = append(s.fees, r)
		}
	}
	return nil
}

func (s *Store) PutBuybacks(_ context.Context, buybacks []model.BuybackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range buybacks {
		if s.fresh(r.EventID) {
			s.buybacks = append(s.buybacks, r)
		}
	}
	return nil
}

func (s *Store) UpsertPools(_ context.Context, pools []model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pools {
		s.pools[p.ID] = p.Clone()
	}
	return nil
}

func (s *Store) GetPool(_ context.Context, id solana.PublicKey) (model.Pool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return model.Pool{}, false, nil
	}
	return p.Clone(), true, nil
}

// ListPools returns the projected pools ordered by creation time.
func (s *Store) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	out := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) Fees() []model.FeeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FeeRecord(nil), s.fees...)
}

func (s *Store) ListSwaps(_ context.Context, q storage.PageQuery) (storage.Page[model.SwapRecord], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.swaps, q, func(r model.SwapRecord) bool { return q.Pool.IsZero() || r.Pool.Equals(q.Pool) }), nil
}

func (s *Store) ListBuybacks(_ context.Context, q storage.PageQuery) (storage.Page[model.BuybackRecord], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Buybacks are not per pool.
	return page(s.buybacks, q, func(model.BuybackRecord) bool { return true }), nil
}

func (s *Store) SwapsBetween(_ context.Context, pool solana.PublicKey, start, end int64) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SwapRecord
	for _, r := range s.swaps {
		if r.Pool.Equals(pool) && r.Timestamp >= start && r.Timestamp < end {
			out = append(out, r)
		}
	}
	return out, nil
}

func page[T any](items []T, q storage.PageQuery, match func(T) bool) storage.Page[T] {
	limit := storage.NormalizeLimit(q.Limit)
	var out storage.Page[T]
	for i := int(q.After); i < len(items); i++ {
		if !match(items[i]) {
			continue
		}
		if len(out.Items) == limit {
			out.More = true
			break
		}
		out.Items = append(out.Items, items[i])
		out.Next = uint64(i + 1)
	}
	return out
}

// UpsertWindowMetrics replaces metrics keyed by pool, window size and start.
func (s *Store) UpsertWindowMetrics(_ context.Context, metrics []model.PoolWindowMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		s.windows[windowKey{pool: m.Pool, size: m.WindowSizeSecs, start: m.WindowStart.Unix()}] = m
	}
	return nil
}

// WindowMetrics returns a pool's metrics for one window size, oldest first.
func (s *Store) WindowMetrics(pool solana.PublicKey, size int64) []model.PoolWindowMetrics {
	s.mu.RLock()
	var out []model.PoolWindowMetrics
	for k, m := range s.windows {
		if k.pool == pool && k.size == size {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out
}
