package model

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestNewEventIDDeterministic(t *testing.T) {
	a := NewEventID("exchange", 7)
	b := NewEventID("exchange", 7)
	if a != b {
		t.Fatalf("same source and seq must hash equal: %s != %s", a.Hex(), b.Hex())
	}
	if a == NewEventID("exchange", 8) {
		t.Fatalf("different seq must hash differently")
	}
	if a == NewEventID("indexer", 7) {
		t.Fatalf("different source must hash differently")
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	data := PoolClosedData{Pool: pool, ReturnedBond: 10_000}

	ev, err := NewEvent("exchange", 1, EventPoolClosed, pool, 1700000000, data)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Kind != EventPoolClosed || !decoded.Pool.Equals(pool) {
		t.Fatalf("envelope mismatch: %+v", decoded)
	}
	var got PoolClosedData
	if err := decoded.Decode(&got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !reflect.DeepEqual(data, got) {
		t.Fatalf("payload mismatch: %+v != %+v", data, got)
	}
}

func TestSwapRecordJSONStringAmounts(t *testing.T) {
	rec := SwapRecord{
		EventID:   NewEventID("exchange", 3),
		InAmount:  18446744073709551615,
		OutAmount: 42,
		LPFee:     4,
		FeeBps:    25,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, field := range []string{"in_amount", "out_amount", "lp_fee", "protocol_fee"} {
		if _, ok := decoded[field].(string); !ok {
			t.Fatalf("%s should be string", field)
		}
	}
	if _, ok := decoded["fee_bps"].(float64); !ok {
		t.Fatalf("fee_bps should be numeric")
	}
}

func TestProgramLogJSONRoundTrip(t *testing.T) {
	original := ProgramLog{
		Signature:  "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		Slot:       250000000,
		BlockTime:  1700000000,
		Logs:       []string{"Program log: Instruction: Swap", "Program data: AAAA"},
		IngestedAt: "2024-01-01T00:00:00Z",
	}
	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded ProgramLog
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}
