package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"binExchange/internal/aggregate"
	"binExchange/internal/api"
	"binExchange/internal/config"
	"binExchange/internal/exchange"
	"binExchange/internal/feetier"
	"binExchange/internal/indexer"
	"binExchange/internal/pricing"
	"binExchange/internal/staking"
	"binExchange/internal/storage"
	"binExchange/internal/treasury"
)

const eventSource = "exchange"

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
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

	converter, err := newConverter(cfg.Pricing, cfg.Protocol.NativeMint, logger)
	if err != nil {
		return err
	}
	table, err := feetier.NewTable(cfg.Protocol.Tiers)
	if err != nil {
		return err
	}
	stakes, err := staking.NewPool(table, logger)
	if err != nil {
		return err
	}
	dist, err := treasury.NewDistributor(converter, stakes, cfg.Protocol.Split, logger)
	if err != nil {
		return err
	}

	journal := storage.NewJsonlStorage(cfg.Events)
	applier := indexer.NewApplier(st.ids, st.records, logger)
	lastSeq, err := journal.LastSeq(ctx, eventSource)
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}

	ex, err := exchange.New(cfg.Protocol.Params, dist, stakes,
		exchange.WithEventSink(storage.Fanout{journal, applier}),
		exchange.WithEventSource(eventSource, lastSeq),
		exchange.WithOperator(cfg.Operator),
		exchange.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	replayer := ex.Replayer()
	if err := replayJournal(ctx, journal, storage.Fanout{replayer, applier}, logger); err != nil {
		return err
	}
	logger.Info("state restored", zap.Uint64("events", replayer.Applied()), zap.Int("pools", len(ex.ListPools())))

	srv, err := api.NewServer(api.Config{
		Addr:     cfg.Addr,
		Operator: cfg.Operator,
		MaxSkew:  cfg.MaxSkew,
		Debug:    cfg.Debug,
	}, ex, st.records, logger, api.WithMetrics(st.mem))
	if err != nil {
		return err
	}

	logger.Info("serve start",
		zap.String("addr", cfg.Addr),
		zap.String("program_id", cfg.Protocol.Params.ProgramID.String()),
		zap.Uint64("bond_amount", cfg.Protocol.Params.BondAmount),
		zap.String("events", cfg.Events),
		zap.Uint64("last_seq", lastSeq),
		zap.String("store", cfg.Storage.Kind),
		zap.Bool("quote_api", cfg.Pricing.QuoteURL != ""),
		zap.Duration("harvest_interval", cfg.HarvestInterval),
		zap.Int64("window_seconds", cfg.WindowSeconds),
	)

	agg := aggregate.NewAggregator(aggregate.Config{WindowSeconds: cfg.WindowSeconds}, st.records, st.mem, logger).WithTVL(ex)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		return every(gctx, cfg.HarvestInterval, func(ctx context.Context) {
			harvest(ctx, ex, logger)
		})
	})
	g.Go(func() error {
		return every(gctx, cfg.AggregateInterval, func(ctx context.Context) {
			if _, err := agg.Run(ctx, time.Now()); err != nil {
				logger.Warn("aggregate failed", zap.Error(err))
			}
		})
	})
	return g.Wait()
}

func newConverter(cfg config.Pricing, native solana.PublicKey, logger *zap.Logger) (treasury.Converter, error) {
	if cfg.QuoteURL != "" {
		return pricing.NewHTTPConverter(pricing.HTTPConfig{
			BaseURL:      cfg.QuoteURL,
			NativeMint:   native,
			SlippageBps:  cfg.SlippageBps,
			MaxImpactBps: cfg.MaxImpactBps,
			Timeout:      cfg.Timeout,
		}, logger)
	}
	rates, err := pricing.ParseRates(cfg.Rates)
	if err != nil {
		return nil, err
	}
	logger.Warn("no quote api configured, using fixed rates", zap.Int("rates", len(rates)))
	return pricing.FixedRate{Native: native, Rates: rates}, nil
}

// replayJournal feeds the event journal to sink from the start.
func replayJournal(ctx context.Context, journal *storage.JsonlStorage, sink storage.Storage, logger *zap.Logger) error {
	if _, err := os.Stat(journal.Path()); os.IsNotExist(err) {
		return nil
	}
	runner := indexer.NewRunner(indexer.RunConfig{BatchSize: storage.MaxPageLimit}, indexer.NewJSONLSource(journal), sink, nil, logger)
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	return nil
}

// harvest retries transient conversion failures before giving up until the
// next tick.
func harvest(ctx context.Context, ex *exchange.Exchange, logger *zap.Logger) {
	policy := indexer.RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	var recs int
	err := indexer.Retry(ctx, policy, func(ctx context.Context) error {
		out, err := ex.HarvestAll(ctx)
		recs += len(out)
		return err
	})
	if err != nil {
		logger.Warn("harvest failed", zap.Int("harvested", recs), zap.Error(err))
		return
	}
	logger.Info("harvest complete", zap.Int("harvested", recs))
}

// every calls fn each interval until ctx is done. A zero interval disables
// the loop.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
