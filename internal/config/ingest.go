package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

const (
	SourceJSONL = "jsonl"
	SourceChain = "chain"
)

// IngestConfig holds configuration for the ingest command.
type IngestConfig struct {
	Protocol      Protocol
	Storage       Storage
	Source        string
	RPCURL        string
	Commitment    string
	In            string
	BatchSize     int
	Follow        bool
	PollInterval  time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
	Checkpoint    string
	DecodeErrors  string
	Aggregate     bool
	WindowSeconds int64
	RecomputeFrom int64
	LogLevel      string
}

// LoadIngest merges config file, environment variables, and flags into IngestConfig.
func LoadIngest(cfgFile string, flags *pflag.FlagSet) (IngestConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"source":        SourceJSONL,
		"commitment":    "finalized",
		"batch-size":    500,
		"poll-interval": 2 * time.Second,
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"max-backoff":   30 * time.Second,
		"decode-errors": "./data/decode_errors.jsonl",
		"window":        "5m",
	})
	if err != nil {
		return IngestConfig{}, err
	}

	protocol, err := LoadProtocol(v)
	if err != nil {
		return IngestConfig{}, err
	}
	store, err := loadStorage(v)
	if err != nil {
		return IngestConfig{}, err
	}
	window, err := windowSeconds(v.GetString("window"))
	if err != nil {
		return IngestConfig{}, err
	}
	recomputeFrom, err := ParseTimestamp(v.GetString("recompute-from"))
	if err != nil {
		return IngestConfig{}, fmt.Errorf("parse recompute-from: %w", err)
	}

	cfg := IngestConfig{
		Protocol:      protocol,
		Storage:       store,
		Source:        v.GetString("source"),
		RPCURL:        v.GetString("rpc"),
		Commitment:    v.GetString("commitment"),
		In:            v.GetString("in"),
		BatchSize:     v.GetInt("batch-size"),
		Follow:        v.GetBool("follow"),
		PollInterval:  v.GetDuration("poll-interval"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		MaxBackoff:    v.GetDuration("max-backoff"),
		Checkpoint:    v.GetString("checkpoint"),
		DecodeErrors:  v.GetString("decode-errors"),
		Aggregate:     v.GetBool("aggregate"),
		WindowSeconds: window,
		RecomputeFrom: recomputeFrom,
		LogLevel:      v.GetString("log-level"),
	}
	switch cfg.Source {
	case SourceJSONL:
		if cfg.In == "" {
			return IngestConfig{}, fmt.Errorf("input path is required for jsonl source")
		}
	case SourceChain:
		if cfg.RPCURL == "" {
			return IngestConfig{}, fmt.Errorf("rpc url is required for chain source")
		}
	default:
		return IngestConfig{}, fmt.Errorf("unknown source %q", cfg.Source)
	}
	return cfg, nil
}
