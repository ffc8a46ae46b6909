package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// SwapRecord is the append-only record of one executed swap.
type SwapRecord struct {
	EventID        common.Hash      `json:"event_id"`
	Pool           solana.PublicKey `json:"pool"`
	Trader         solana.PublicKey `json:"trader"`
	InMint         solana.PublicKey `json:"in_mint"`
	InAmount       uint64           `json:"in_amount,string"`
	OutMint        solana.PublicKey `json:"out_mint"`
	OutAmount      uint64           `json:"out_amount,string"`
	FeeBps         uint32           `json:"fee_bps"`
	LPFee          uint64           `json:"lp_fee,string"`
	ProtocolFee    uint64           `json:"protocol_fee,string"`
	BinsCrossed    uint32           `json:"bins_crossed"`
	PriceImpactBps uint32           `json:"price_impact_bps"`
	StartBinID     int32            `json:"start_bin_id"`
	EndBinID       int32            `json:"end_bin_id"`
	Timestamp      int64            `json:"timestamp"`
}
