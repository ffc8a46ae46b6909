package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"binExchange/internal/model"
)

// Client wraps solana-go RPC and caches immutable lookups.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType

	mu         sync.RWMutex
	blockTimes map[uint64]int64
	mints      map[solana.PublicKey]model.MintMeta
}

// NewClient creates a chain client for the RPC URL.
func NewClient(rpcURL string, commitment rpc.CommitmentType) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	return &Client{
		rpc:        rpc.New(rpcURL),
		commitment: commitment,
		blockTimes: make(map[uint64]int64),
		mints:      make(map[solana.PublicKey]model.MintMeta),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// LatestSlot returns the current slot at the client commitment.
func (c *Client) LatestSlot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, c.commitment)
}

// SignaturesAfter returns the confirmed signatures of address with a slot
// greater than afterSlot, oldest first. It pages backwards from the tip in
// batches of pageSize.
func (c *Client) SignaturesAfter(ctx context.Context, address solana.PublicKey, afterSlot uint64, pageSize int) ([]*rpc.TransactionSignature, error) {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	var (
		out    []*rpc.TransactionSignature
		before solana.Signature
	)
	for {
		limit := pageSize
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit, Commitment: c.commitment}
		if !before.IsZero() {
			opts.Before = before
		}
		page, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, address, opts)
		if err != nil {
			return nil, fmt.Errorf("signatures for %s: %w", address, err)
		}
		done := len(page) < pageSize
		for _, sig := range page {
			if sig.Slot <= afterSlot {
				done = true
				break
			}
			out = append(out, sig)
		}
		if done || len(page) == 0 {
			break
		}
		before = page[len(page)-1].Signature
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	// Within a slot the RPC returns newest first.
	for i := 0; i < len(out); {
		j := i
		for j < len(out) && out[j].Slot == out[i].Slot {
			j++
		}
		for l, r := i, j-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
		i = j
	}
	return out, nil
}

// TransactionLogs loads the log messages of a transaction.
func (c *Client) TransactionLogs(ctx context.Context, sig solana.Signature) (model.ProgramLog, error) {
	maxVersion := uint64(0)
	tx, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return model.ProgramLog{}, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if tx == nil || tx.Meta == nil {
		return model.ProgramLog{}, fmt.Errorf("transaction %s has no meta", sig)
	}
	out := model.ProgramLog{
		Signature:  sig.String(),
		Slot:       tx.Slot,
		Logs:       tx.Meta.LogMessages,
		Failed:     tx.Meta.Err != nil,
		IngestedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if out.Logs == nil {
		out.Logs = []string{}
	}
	if tx.BlockTime != nil {
		out.BlockTime = int64(*tx.BlockTime)
		c.mu.Lock()
		c.blockTimes[tx.Slot] = out.BlockTime
		c.mu.Unlock()
	} else if out.BlockTime, err = c.BlockTime(ctx, tx.Slot); err != nil {
		return model.ProgramLog{}, err
	}
	return out, nil
}

// BlockTime returns the unix time of a slot, using an in-memory cache.
func (c *Client) BlockTime(ctx context.Context, slot uint64) (int64, error) {
	c.mu.RLock()
	ts, ok := c.blockTimes[slot]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	bt, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		return 0, fmt.Errorf("block time %d: %w", slot, err)
	}
	if bt == nil {
		return 0, fmt.Errorf("block time %d unavailable", slot)
	}
	ts = int64(*bt)
	c.mu.Lock()
	c.blockTimes[slot] = ts
	c.mu.Unlock()
	return ts, nil
}

// MintMeta loads SPL mint metadata, using an in-memory cache.
func (c *Client) MintMeta(ctx context.Context, mint solana.PublicKey) (model.MintMeta, error) {
	c.mu.RLock()
	meta, ok := c.mints[mint]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	acc, err := c.rpc.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		return model.MintMeta{}, fmt.Errorf("mint account %s: %w", mint, err)
	}
	if acc == nil || acc.Value == nil {
		return model.MintMeta{}, fmt.Errorf("mint %s not found", mint)
	}
	decoded, err := DecodeMint(acc.Value.Data.GetBinary())
	if err != nil {
		return model.MintMeta{}, fmt.Errorf("mint %s: %w", mint, err)
	}
	meta = model.MintMeta{Mint: mint, Decimals: decoded.Decimals}
	c.mu.Lock()
	c.mints[mint] = meta
	c.mu.Unlock()
	return meta, nil
}

// DecodeMint decodes an SPL token mint account.
func DecodeMint(data []byte) (*token.Mint, error) {
	mint := new(token.Mint)
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("decode mint: %w", err)
	}
	return mint, nil
}
