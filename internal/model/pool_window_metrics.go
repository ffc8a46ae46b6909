package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// PoolWindowMetrics stores aggregated swap metrics for one pool window.
// Amounts are decimal strings scaled by mint decimals when known.
type PoolWindowMetrics struct {
	Pool           solana.PublicKey `json:"pool"`
	WindowSizeSecs int64            `json:"window_size_secs"`
	WindowStart    time.Time        `json:"window_start"`
	WindowEnd      time.Time        `json:"window_end"`
	SwapCount      uint64           `json:"swap_count"`
	VolumeBase     string           `json:"volume_base"`
	VolumeQuote    string           `json:"volume_quote"`
	FeeBase        string           `json:"fee_base"`
	FeeQuote       string           `json:"fee_quote"`
	FeeRate        *string          `json:"fee_rate,omitempty"`
	TVLQuote       *string          `json:"tvl_quote,omitempty"`
	APR            *string          `json:"apr,omitempty"`
	FeeMethod      string           `json:"fee_method"`
}
