package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// FeeRecord is a protocol fee posted to the treasury accumulator.
type FeeRecord struct {
	EventID   common.Hash      `json:"event_id"`
	Pool      solana.PublicKey `json:"pool"`
	Mint      solana.PublicKey `json:"mint"`
	Amount    uint64           `json:"amount,string"`
	Timestamp int64            `json:"timestamp"`
}
