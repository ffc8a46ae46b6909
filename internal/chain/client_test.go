package chain

import (
	"bytes"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

func TestDecodeMint(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	mint := token.Mint{
		MintAuthority: &authority,
		Supply:        1_000_000,
		Decimals:      6,
		IsInitialized: true,
	}
	var buf bytes.Buffer
	if err := mint.MarshalWithEncoder(bin.NewBinEncoder(&buf)); err != nil {
		t.Fatalf("encode mint: %v", err)
	}

	decoded, err := DecodeMint(buf.Bytes())
	if err != nil {
		t.Fatalf("decode mint: %v", err)
	}
	if decoded.Decimals != 6 || decoded.Supply != 1_000_000 {
		t.Fatalf("unexpected mint: decimals=%d supply=%d", decoded.Decimals, decoded.Supply)
	}
	if decoded.MintAuthority == nil || !decoded.MintAuthority.Equals(authority) {
		t.Fatalf("mint authority mismatch")
	}
}

func TestDecodeMintTruncated(t *testing.T) {
	if _, err := DecodeMint([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated mint")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", rpc.CommitmentFinalized); err == nil {
		t.Fatalf("expected error for empty rpc url")
	}
	c, err := NewClient("http://127.0.0.1:8899", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.commitment != rpc.CommitmentFinalized {
		t.Fatalf("default commitment = %s", c.commitment)
	}
}
