package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"binExchange/internal/model"
	"binExchange/internal/storage"
)

// RunConfig holds runtime settings for the ingest loop.
type RunConfig struct {
	BatchSize    int
	Retry        RetryPolicy
	Follow       bool
	PollInterval time.Duration
}

// DecodeErrorSink receives log lines that could not be decoded.
type DecodeErrorSink interface {
	PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error
}

// Runner moves batches from a Source into a Storage and checkpoints the
// cursor after every stored batch.
type Runner struct {
	cfg        RunConfig
	source     Source
	sink       storage.Storage
	checkpoint Checkpoint
	errSink    DecodeErrorSink
	logger     *zap.Logger
}

// NewRunner builds a Runner. A nil checkpoint starts from cursor zero on
// every run.
func NewRunner(cfg RunConfig, source Source, sink storage.Storage, checkpoint Checkpoint, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// WithDecodeErrors routes decode failures to sink.
func (r *Runner) WithDecodeErrors(sink DecodeErrorSink) *Runner {
	r.errSink = sink
	return r
}

// Run executes the ingest loop. Without Follow it returns once the source
// is drained.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("source is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	var cursor uint64
	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			cursor = cp
			r.logger.Info("resume from checkpoint", zap.Uint64("cursor", cursor))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := r.fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if len(batch.Errors) > 0 && r.errSink != nil {
			if err := r.errSink.PutDecodeErrors(ctx, batch.Errors); err != nil {
				return fmt.Errorf("store decode errors: %w", err)
			}
		}
		if len(batch.Events) > 0 {
			if err := r.sink.PutEventBatch(ctx, batch.Events); err != nil {
				return fmt.Errorf("store events: %w", err)
			}
		}
		if batch.Next != cursor {
			if r.checkpoint != nil {
				if err := r.checkpoint.Save(ctx, batch.Next); err != nil {
					return fmt.Errorf("save checkpoint: %w", err)
				}
			}
			r.logger.Info("batch complete",
				zap.Int("events", len(batch.Events)),
				zap.Int("decode_errors", len(batch.Errors)),
				zap.Uint64("from", cursor),
				zap.Uint64("to", batch.Next),
			)
			cursor = batch.Next
			continue
		}

		if !r.cfg.Follow {
			r.logger.Info("source drained", zap.Uint64("cursor", cursor))
			return nil
		}
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (r *Runner) fetch(ctx context.Context, cursor uint64) (Batch, error) {
	var batch Batch
	err := Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		batch, err = r.source.Fetch(ctx, cursor, r.cfg.BatchSize)
		if err != nil {
			r.logger.Warn("fetch failed", zap.Error(err), zap.Uint64("cursor", cursor))
		}
		return err
	})
	if err != nil {
		return Batch{}, fmt.Errorf("fetch after %d: %w", cursor, err)
	}
	return batch, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
