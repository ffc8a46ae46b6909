package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"binExchange/internal/model"
)

// MintSource loads mint metadata. chain.Client implements it.
type MintSource interface {
	MintMeta(ctx context.Context, mint solana.PublicKey) (model.MintMeta, error)
}

// MintCache caches mint decimals. Entries set explicitly take precedence
// over the source.
type MintCache struct {
	src  MintSource
	mu   sync.RWMutex
	data map[solana.PublicKey]uint8
}

func NewMintCache(src MintSource) *MintCache {
	return &MintCache{src: src, data: make(map[solana.PublicKey]uint8)}
}

func (c *MintCache) Set(mint solana.PublicKey, decimals uint8) {
	c.mu.Lock()
	c.data[mint] = decimals
	c.mu.Unlock()
}

func (c *MintCache) Decimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	c.mu.RLock()
	decimals, ok := c.data[mint]
	c.mu.RUnlock()
	if ok {
		return decimals, nil
	}
	if c.src == nil {
		return 0, fmt.Errorf("no decimals for mint %s", mint)
	}
	meta, err := c.src.MintMeta(ctx, mint)
	if err != nil {
		return 0, err
	}
	c.Set(mint, meta.Decimals)
	return meta.Decimals, nil
}
