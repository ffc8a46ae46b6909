package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"binExchange/internal/aggregate"
	"binExchange/internal/chain"
	"binExchange/internal/config"
	"binExchange/internal/indexer"
	"binExchange/internal/storage"
)

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	retry := indexer.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBackoff,
		MaxDelay:   cfg.MaxBackoff,
	}

	var (
		source indexer.Source
		mints  aggregate.MintSource
		name   string
	)
	switch cfg.Source {
	case config.SourceChain:
		client, err := chain.NewClient(cfg.RPCURL, rpc.CommitmentType(cfg.Commitment))
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer client.Close()
		program := cfg.Protocol.Params.ProgramID
		source = indexer.NewChainSource(client, program, retry, logger)
		mints = client
		name = "ingest:chain:" + program.String()
	default:
		source = indexer.NewJSONLSource(storage.NewJsonlStorage(cfg.In))
		name = "ingest:jsonl:" + cfg.In
	}

	applier := indexer.NewApplier(st.ids, st.records, logger)
	runner := indexer.NewRunner(indexer.RunConfig{
		BatchSize:    cfg.BatchSize,
		Retry:        retry,
		Follow:       cfg.Follow,
		PollInterval: cfg.PollInterval,
	}, source, applier, st.checkpoint(cfg.Checkpoint, name), logger)
	if cfg.DecodeErrors != "" {
		runner.WithDecodeErrors(storage.NewJsonlDecodeErrors(cfg.DecodeErrors))
	}

	logger.Info("ingest start",
		zap.String("source", cfg.Source),
		zap.String("in", cfg.In),
		zap.String("rpc", cfg.RPCURL),
		zap.String("store", cfg.Storage.Kind),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("follow", cfg.Follow),
		zap.String("checkpoint", name),
	)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	stats := applier.Stats()
	logger.Info("ingest complete", zap.Uint64("applied", stats.Applied), zap.Uint64("duplicates", stats.Duplicates))

	if !cfg.Aggregate {
		return nil
	}
	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: cfg.WindowSeconds,
		RecomputeFrom: cfg.RecomputeFrom,
		Checkpoint:    st.checkpoint("", fmt.Sprintf("aggregator:%d", cfg.WindowSeconds)),
	}, st.records, st.metrics, logger).WithMints(aggregate.NewMintCache(mints))

	logger.Info("aggregate start",
		zap.Int64("window_seconds", cfg.WindowSeconds),
		zap.Int64("recompute_from", cfg.RecomputeFrom),
	)
	_, err = agg.Run(ctx, time.Now())
	return err
}
