package indexer

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"binExchange/internal/dex"
	"binExchange/internal/model"
	"binExchange/internal/storage"
)

// Batch is one fetch of events. Next is the cursor to resume from.
type Batch struct {
	Events []model.Event
	Errors []model.DecodeError
	Next   uint64
}

// Source yields events after a cursor. A batch whose Next equals the
// requested cursor means the source is drained.
type Source interface {
	Fetch(ctx context.Context, cursor uint64, limit int) (Batch, error)
}

// JSONLSource replays an exchange event log. The cursor is a line offset.
type JSONLSource struct {
	log *storage.JsonlStorage
}

func NewJSONLSource(log *storage.JsonlStorage) *JSONLSource {
	return &JSONLSource{log: log}
}

func (s *JSONLSource) Fetch(ctx context.Context, cursor uint64, limit int) (Batch, error) {
	events, next, err := s.log.ReadEvents(ctx, cursor, limit)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Events: events, Next: next}, nil
}

// ChainClient is the part of chain.Client a ChainSource needs.
type ChainClient interface {
	SignaturesAfter(ctx context.Context, address solana.PublicKey, afterSlot uint64, pageSize int) ([]*rpc.TransactionSignature, error)
	TransactionLogs(ctx context.Context, sig solana.Signature) (model.ProgramLog, error)
}

// ChainSource decodes program events from confirmed transactions. The
// cursor is the last fully processed slot. A batch never ends inside a slot.
type ChainSource struct {
	client  ChainClient
	program solana.PublicKey
	decoder *dex.Decoder
	retry   RetryPolicy
	logger  *zap.Logger
}

func NewChainSource(client ChainClient, program solana.PublicKey, retry RetryPolicy, logger *zap.Logger) *ChainSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainSource{
		client:  client,
		program: program,
		decoder: dex.NewDecoder(program, logger),
		retry:   retry,
		logger:  logger,
	}
}

// Fetch processes at least limit transactions when available, extended to
// the end of the last slot touched.
func (s *ChainSource) Fetch(ctx context.Context, cursor uint64, limit int) (Batch, error) {
	var sigs []*rpc.TransactionSignature
	err := Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		sigs, err = s.client.SignaturesAfter(ctx, s.program, cursor, 0)
		if err != nil {
			s.logger.Warn("list signatures failed", zap.Error(err), zap.Uint64("after_slot", cursor))
		}
		return err
	})
	if err != nil {
		return Batch{}, fmt.Errorf("list signatures: %w", err)
	}
	if len(sigs) == 0 {
		return Batch{Next: cursor}, nil
	}

	end := len(sigs)
	if limit > 0 && limit < end {
		end = limit
		for end < len(sigs) && sigs[end].Slot == sigs[end-1].Slot {
			end++
		}
	}

	batch := Batch{Next: cursor}
	for _, sig := range sigs[:end] {
		if sig.Err != nil {
			batch.Next = sig.Slot
			continue
		}
		var log model.ProgramLog
		err := Retry(ctx, s.retry, func(ctx context.Context) error {
			var err error
			log, err = s.client.TransactionLogs(ctx, sig.Signature)
			if err != nil {
				s.logger.Warn("transaction fetch failed", zap.Error(err), zap.String("signature", sig.Signature.String()))
			}
			return err
		})
		if err != nil {
			return Batch{}, fmt.Errorf("transaction %s: %w", sig.Signature, err)
		}
		events, errs := s.decoder.Decode(log)
		batch.Events = append(batch.Events, events...)
		batch.Errors = append(batch.Errors, errs...)
		batch.Next = sig.Slot
	}
	return batch, nil
}
