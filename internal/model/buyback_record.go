package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// BuybackRecord is produced by a treasury harvest of one asset.
type BuybackRecord struct {
	EventID        common.Hash      `json:"event_id"`
	Mint           solana.PublicKey `json:"mint"`
	Timestamp      int64            `json:"timestamp"`
	TotalIn        uint64           `json:"total_in,string"`
	NativeOut      uint64           `json:"native_out,string"`
	PriceImpactBps uint32           `json:"price_impact_bps"`
	Burned         uint64           `json:"burned,string"`
	ToStakers      uint64           `json:"to_stakers,string"`
	ToOps          uint64           `json:"to_ops,string"`
}
