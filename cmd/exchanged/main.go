package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "exchanged",
		Short:        "Bin-indexed liquidity exchange",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the exchange and its HTTP API",
		RunE:  runServe,
	}

	addProtocolFlags(serveCmd)
	addStorageFlags(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("operator", "", "operator public key allowed to confirm bonds and harvest")
	serveCmd.Flags().Duration("max-skew", 5*time.Minute, "accepted clock skew of signed requests")
	serveCmd.Flags().String("events", "./data/events.jsonl", "event journal JSONL path")
	serveCmd.Flags().String("quote-url", "", "conversion quote API base URL")
	serveCmd.Flags().StringSlice("rate", nil, "fixed conversion rates mint=num/den (comma-separated)")
	serveCmd.Flags().Uint32("slippage-bps", 50, "slippage tolerance sent to the quote API")
	serveCmd.Flags().Uint32("max-impact-bps", 500, "reject conversions above this price impact")
	serveCmd.Flags().Duration("quote-timeout", 10*time.Second, "quote API request timeout")
	serveCmd.Flags().Duration("harvest-interval", time.Hour, "treasury harvest interval, 0 disables")
	serveCmd.Flags().Duration("aggregate-interval", time.Minute, "window metrics interval, 0 disables")
	serveCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	serveCmd.Flags().Bool("debug", false, "gin debug mode")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Apply exchange events from a journal or the chain into storage",
		RunE:  runIngest,
	}

	addProtocolFlags(ingestCmd)
	addStorageFlags(ingestCmd)
	ingestCmd.Flags().String("source", "jsonl", "event source (jsonl, chain)")
	ingestCmd.Flags().String("in", "", "input event journal JSONL")
	ingestCmd.Flags().String("rpc", "", "Solana RPC URL")
	ingestCmd.Flags().String("commitment", "finalized", "RPC commitment")
	ingestCmd.Flags().Int("batch-size", 500, "events or transactions per batch")
	ingestCmd.Flags().Bool("follow", false, "keep polling after the source is drained")
	ingestCmd.Flags().Duration("poll-interval", 2*time.Second, "poll interval in follow mode")
	ingestCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ingestCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	ingestCmd.Flags().Duration("max-backoff", 30*time.Second, "maximum retry backoff")
	ingestCmd.Flags().String("checkpoint", "", "checkpoint file path (defaults to the store when durable)")
	ingestCmd.Flags().String("decode-errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	ingestCmd.Flags().Bool("aggregate", false, "aggregate window metrics after ingesting")
	ingestCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	ingestCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ingestCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addProtocolFlags(cmd *cobra.Command) {
	cmd.Flags().String("program-id", "", "exchange program id")
	cmd.Flags().Uint64("bond-amount", 0, "bond required to activate a pool")
	cmd.Flags().String("native-mint", "", "mint fees are converted into")
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "memory", "record store (memory, postgres, leveldb)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("leveldb", "", "leveldb path for applied event ids and state")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
