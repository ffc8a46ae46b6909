package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"binExchange/internal/exchange"
	"binExchange/internal/model"
	"binExchange/internal/treasury"
)

func TestLoadServeDefaults(t *testing.T) {
	cfg, err := LoadServe("", nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, 5*time.Minute, cfg.MaxSkew)
	require.Equal(t, int64(300), cfg.WindowSeconds)
	require.Equal(t, StorageMemory, cfg.Storage.Kind)
	require.Equal(t, exchange.DefaultParams(), cfg.Protocol.Params)
	require.Equal(t, treasury.DefaultSplit(), cfg.Protocol.Split)
	require.Len(t, cfg.Protocol.Tiers, 4)
	require.True(t, cfg.Operator.IsZero())
}

func TestLoadServeEnvOverride(t *testing.T) {
	t.Setenv("EXCHANGE_BOND_AMOUNT", "42")
	t.Setenv("EXCHANGE_QUOTE_URL", "http://quotes.local")
	t.Setenv("EXCHANGE_RATE", "So11111111111111111111111111111111111111112=1/1")

	cfg, err := LoadServe("", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), cfg.Protocol.Params.BondAmount)
	require.Equal(t, "http://quotes.local", cfg.Pricing.QuoteURL)
	require.Equal(t, []string{"So11111111111111111111111111111111111111112=1/1"}, cfg.Pricing.Rates)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadProtocolFromFile(t *testing.T) {
	path := writeConfig(t, `
max-fee-bps: 80
tiers:
  - threshold: 0
    discount_bps: 0
  - threshold: 500
    discount_bps: 7
split:
  burn_bps: 5000
  stakers_bps: 4000
  ops_bps: 1000
`)
	cfg, err := LoadServe(path, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(80), cfg.Protocol.Params.MaxFeeBps)
	require.Len(t, cfg.Protocol.Tiers, 2)
	require.Equal(t, uint64(500), cfg.Protocol.Tiers[1].Threshold)
	require.Equal(t, uint32(7), cfg.Protocol.Tiers[1].DiscountBps)
	require.Equal(t, treasury.Split{BurnBps: 5000, StakersBps: 4000, OpsBps: 1000}, cfg.Protocol.Split)
}

func TestLoadProtocolRejectsBadSplit(t *testing.T) {
	path := writeConfig(t, `
split:
  burn_bps: 5000
  stakers_bps: 5000
  ops_bps: 1000
`)
	_, err := LoadServe(path, nil)
	require.ErrorIs(t, err, model.ErrInvalidSplit)
}

func TestLoadStorageValidation(t *testing.T) {
	t.Setenv("EXCHANGE_STORE", "postgres")
	_, err := LoadServe("", nil)
	require.Error(t, err)

	t.Setenv("EXCHANGE_PG_DSN", "postgres://localhost/exchange")
	cfg, err := LoadServe("", nil)
	require.NoError(t, err)
	require.Equal(t, StoragePostgres, cfg.Storage.Kind)

	t.Setenv("EXCHANGE_STORE", "redis")
	_, err = LoadServe("", nil)
	require.Error(t, err)
}

func TestLoadIngestSources(t *testing.T) {
	_, err := LoadIngest("", nil)
	if err == nil {
		t.Fatalf("expected jsonl source without input to fail")
	}

	t.Setenv("EXCHANGE_IN", "./events.jsonl")
	t.Setenv("EXCHANGE_RECOMPUTE_FROM", "2024-01-01T00:00:00Z")
	cfg, err := LoadIngest("", nil)
	require.NoError(t, err)
	require.Equal(t, SourceJSONL, cfg.Source)
	require.Equal(t, 500, cfg.BatchSize)
	require.Equal(t, int64(1704067200), cfg.RecomputeFrom)

	t.Setenv("EXCHANGE_SOURCE", "chain")
	_, err = LoadIngest("", nil)
	require.Error(t, err)
	t.Setenv("EXCHANGE_RPC", "http://localhost:8899")
	cfg, err = LoadIngest("", nil)
	require.NoError(t, err)
	require.Equal(t, "finalized", cfg.Commitment)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), ts)

	ts, err = ParseTimestamp("")
	require.NoError(t, err)
	require.Zero(t, ts)

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}
