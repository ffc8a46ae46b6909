package config

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/pflag"
)

// Pricing selects the treasury conversion collaborator. A quote URL wins
// over fixed rates.
type Pricing struct {
	QuoteURL     string
	SlippageBps  uint32
	MaxImpactBps uint32
	Timeout      time.Duration
	Rates        []string
}

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Protocol          Protocol
	Pricing           Pricing
	Storage           Storage
	Addr              string
	Operator          solana.PublicKey
	MaxSkew           time.Duration
	Events            string
	DecodeErrors      string
	HarvestInterval   time.Duration
	AggregateInterval time.Duration
	WindowSeconds     int64
	Debug             bool
	LogLevel          string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"addr":               ":8080",
		"max-skew":           5 * time.Minute,
		"events":             "./data/events.jsonl",
		"harvest-interval":   time.Hour,
		"aggregate-interval": time.Minute,
		"window":             "5m",
		"slippage-bps":       50,
		"max-impact-bps":     500,
		"quote-timeout":      10 * time.Second,
	})
	if err != nil {
		return ServeConfig{}, err
	}

	protocol, err := LoadProtocol(v)
	if err != nil {
		return ServeConfig{}, err
	}
	store, err := loadStorage(v)
	if err != nil {
		return ServeConfig{}, err
	}
	window, err := windowSeconds(v.GetString("window"))
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Protocol: protocol,
		Pricing: Pricing{
			QuoteURL:     v.GetString("quote-url"),
			SlippageBps:  v.GetUint32("slippage-bps"),
			MaxImpactBps: v.GetUint32("max-impact-bps"),
			Timeout:      v.GetDuration("quote-timeout"),
			Rates:        getStringSlice(v, "rate"),
		},
		Storage:           store,
		Addr:              v.GetString("addr"),
		MaxSkew:           v.GetDuration("max-skew"),
		Events:            v.GetString("events"),
		DecodeErrors:      v.GetString("decode-errors"),
		HarvestInterval:   v.GetDuration("harvest-interval"),
		AggregateInterval: v.GetDuration("aggregate-interval"),
		WindowSeconds:     window,
		Debug:             v.GetBool("debug"),
		LogLevel:          v.GetString("log-level"),
	}
	if op := v.GetString("operator"); op != "" {
		if cfg.Operator, err = solana.PublicKeyFromBase58(op); err != nil {
			return ServeConfig{}, fmt.Errorf("operator: %w", err)
		}
	}
	return cfg, nil
}
