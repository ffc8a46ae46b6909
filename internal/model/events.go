package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventPoolCreated      EventKind = "pool_created"
	EventPoolActivated    EventKind = "pool_activated"
	EventPoolClosed       EventKind = "pool_closed"
	EventPoolPaused       EventKind = "pool_paused"
	EventPoolUnpaused     EventKind = "pool_unpaused"
	EventLiquidityAdded   EventKind = "liquidity_added"
	EventLiquidityRemoved EventKind = "liquidity_removed"
	EventSwapExecuted     EventKind = "swap_executed"
	EventFeeRecorded      EventKind = "fee_recorded"
	EventHarvested        EventKind = "harvested"
	EventStaked           EventKind = "staked"
	EventUnstaked         EventKind = "unstaked"
	EventRewardsClaimed   EventKind = "rewards_claimed"
)

// Event is the envelope appended for every committed mutation.
type Event struct {
	ID        common.Hash      `json:"id"`
	Source    string           `json:"source"`
	Seq       uint64           `json:"seq,string"`
	Kind      EventKind        `json:"kind"`
	Pool      solana.PublicKey `json:"pool"`
	Slot      uint64           `json:"slot,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Timestamp int64            `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// NewEventID derives the unique id of the seq-th event from source.
func NewEventID(source string, seq uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(source + ":" + strconv.FormatUint(seq, 10)))
}

// NewEvent builds an envelope around payload.
func NewEvent(source string, seq uint64, kind EventKind, pool solana.PublicKey, ts int64, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		ID:        NewEventID(source, seq),
		Source:    source,
		Seq:       seq,
		Kind:      kind,
		Pool:      pool,
		Timestamp: ts,
		Payload:   raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// PoolCreatedData is the payload of EventPoolCreated.
type PoolCreatedData struct {
	Pool        solana.PublicKey `json:"pool"`
	Creator     solana.PublicKey `json:"creator"`
	BaseMint    solana.PublicKey `json:"base_mint"`
	QuoteMint   solana.PublicKey `json:"quote_mint"`
	BaseFeeBps  uint32           `json:"base_fee_bps"`
	MinFeeBps   uint32           `json:"min_fee_bps,omitempty"`
	MaxFeeBps   uint32           `json:"max_fee_bps,omitempty"`
	BinStep     uint16           `json:"bin_step"`
	BondAmount  uint64           `json:"bond_amount,string"`
	ActiveBinID int32            `json:"active_bin_id"`
	BasePrice   *uint256.Int     `json:"base_price,omitempty"`
	// Active is set when the bond was settled at creation.
	Active bool `json:"active,omitempty"`
}

// PoolActivatedData is the payload of EventPoolActivated.
type PoolActivatedData struct {
	Pool           solana.PublicKey `json:"pool"`
	EscrowedAmount uint64           `json:"escrowed_amount,string"`
}

// PoolClosedData is the payload of EventPoolClosed.
type PoolClosedData struct {
	Pool         solana.PublicKey `json:"pool"`
	ReturnedBond uint64           `json:"returned_bond,string"`
}

// PoolPauseData is the payload of EventPoolPaused and EventPoolUnpaused.
type PoolPauseData struct {
	Pool   solana.PublicKey `json:"pool"`
	Caller solana.PublicKey `json:"caller"`
}

// LiquidityData is the payload of EventLiquidityAdded and EventLiquidityRemoved.
type LiquidityData struct {
	Pool        solana.PublicKey `json:"pool"`
	Owner       solana.PublicKey `json:"owner"`
	LowerBinID  int32            `json:"lower_bin_id"`
	UpperBinID  int32            `json:"upper_bin_id"`
	BaseAmount  uint64           `json:"base_amount,string"`
	QuoteAmount uint64           `json:"quote_amount,string"`
	Shares      BinShares        `json:"shares,omitempty"`
}

// StakeData is the payload of EventStaked, EventUnstaked and EventRewardsClaimed.
type StakeData struct {
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount,string"`
	Tier   uint8            `json:"tier"`
}
