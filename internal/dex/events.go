package dex

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// Program event layouts, borsh-encoded after an 8-byte discriminator.

type PoolCreated struct {
	Pool      solana.PublicKey
	Creator   solana.PublicKey
	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	FeeBps    uint16
	BinStep   uint16
}

type PoolClosed struct {
	Pool         solana.PublicKey
	ReturnedBond uint64
}

type LiquidityAdded struct {
	Pool        solana.PublicKey
	User        solana.PublicKey
	BinID       int32
	BaseAmount  uint64
	QuoteAmount uint64
}

type LiquidityRemoved struct {
	Pool        solana.PublicKey
	User        solana.PublicKey
	BaseAmount  uint64
	QuoteAmount uint64
}

type SwapExecuted struct {
	Pool        solana.PublicKey
	User        solana.PublicKey
	InMint      solana.PublicKey
	InAmount    uint64
	OutMint     solana.PublicKey
	OutAmount   uint64
	FeeBps      uint16
	ProtocolFee uint64
}

type Staked struct {
	User    solana.PublicKey
	Amount  uint64
	NewTier uint8
}

type Unstaked struct {
	User   solana.PublicKey
	Amount uint64
}

type RewardsClaimed struct {
	User   solana.PublicKey
	Amount uint64
}

type FeeRecorded struct {
	Pool      solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64
	Timestamp int64
}

type Harvested struct {
	TotalIn   uint64
	NativeOut uint64
	Burned    uint64
	ToStakers uint64
	ToOps     uint64
}

// Discriminator returns the 8-byte prefix of an event named name.
func Discriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("event:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

var eventNames = []string{
	"PoolCreated",
	"PoolClosed",
	"LiquidityAdded",
	"LiquidityRemoved",
	"SwapExecuted",
	"Staked",
	"Unstaked",
	"RewardsClaimed",
	"FeeRecorded",
	"Harvested",
}

func newEvent(name string) interface{} {
	switch name {
	case "PoolCreated":
		return new(PoolCreated)
	case "PoolClosed":
		return new(PoolClosed)
	case "LiquidityAdded":
		return new(LiquidityAdded)
	case "LiquidityRemoved":
		return new(LiquidityRemoved)
	case "SwapExecuted":
		return new(SwapExecuted)
	case "Staked":
		return new(Staked)
	case "Unstaked":
		return new(Unstaked)
	case "RewardsClaimed":
		return new(RewardsClaimed)
	case "FeeRecorded":
		return new(FeeRecorded)
	case "Harvested":
		return new(Harvested)
	default:
		return nil
	}
}
