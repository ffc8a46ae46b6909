package model

import "github.com/gagliardetto/solana-go"

// MintMeta captures SPL mint metadata used for display.
type MintMeta struct {
	Mint     solana.PublicKey `json:"mint"`
	Decimals uint8            `json:"decimals"`
	Symbol   string           `json:"symbol,omitempty"`
}
