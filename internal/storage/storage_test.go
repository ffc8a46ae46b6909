package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"binExchange/internal/model"
)

func testEvents(t *testing.T, n int) []model.Event {
	t.Helper()
	pool := solana.NewWallet().PublicKey()
	out := make([]model.Event, 0, n)
	for i := 1; i <= n; i++ {
		ev, err := model.NewEvent("test", uint64(i), model.EventStaked, pool, int64(i), model.StakeData{Amount: uint64(i)})
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestJsonlRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewJsonlStorage(filepath.Join(t.TempDir(), "out", "events.jsonl"))
	events := testEvents(t, 5)
	if err := s.PutEventBatch(ctx, events[:3]); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutEventBatch(ctx, events[3:]); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, next, err := s.ReadEvents(ctx, 0, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if next != 2 || !reflect.DeepEqual(got, events[:2]) {
		t.Fatalf("first page mismatch: next=%d %+v", next, got)
	}
	got, next, err = s.ReadEvents(ctx, next, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if next != 5 || !reflect.DeepEqual(got, events[2:]) {
		t.Fatalf("second page mismatch: next=%d %+v", next, got)
	}

	last, err := s.LastSeq(ctx, "test")
	if err != nil || last != 5 {
		t.Fatalf("last seq mismatch: %d %v", last, err)
	}
}

func TestJsonlMissingFileIsEmpty(t *testing.T) {
	s := NewJsonlStorage(filepath.Join(t.TempDir(), "missing.jsonl"))
	got, next, err := s.ReadEvents(context.Background(), 3, 10)
	if err != nil || len(got) != 0 || next != 3 {
		t.Fatalf("unexpected read: %v %d %v", got, next, err)
	}
}

type failingSink struct{ err error }

func (f failingSink) PutEventBatch(context.Context, []model.Event) error { return f.err }

func TestFanoutStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	a := NewJsonlStorage(filepath.Join(t.TempDir(), "a.jsonl"))
	boom := errors.New("boom")
	err := Fanout{a, failingSink{boom}}.PutEventBatch(ctx, testEvents(t, 1))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	got, _, _ := a.ReadEvents(ctx, 0, 0)
	if len(got) != 1 {
		t.Fatalf("first sink should have the batch, got %d", len(got))
	}
}

func TestIteratorWalksPages(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	var calls int
	fetch := func(_ context.Context, after uint64, limit int) (Page[int], error) {
		calls++
		var p Page[int]
		for i := int(after); i < len(items); i++ {
			if len(p.Items) == limit {
				p.More = true
				break
			}
			p.Items = append(p.Items, items[i])
			p.Next = uint64(i + 1)
		}
		return p, nil
	}

	it := NewIterator[int](fetch, 0, 3)
	got, err := Collect(context.Background(), it, 0)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !reflect.DeepEqual(got, items) {
		t.Fatalf("items mismatch: %v", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 page fetches, got %d", calls)
	}

	it = NewIterator[int](fetch, 5, 3)
	got, _ = Collect(context.Background(), it, 1)
	if !reflect.DeepEqual(got, []int{6}) {
		t.Fatalf("resume mismatch: %v", got)
	}
}

func TestIteratorStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	it := NewIterator[int](func(context.Context, uint64, int) (Page[int], error) { return Page[int]{}, boom }, 0, 0)
	if it.Next(context.Background()) {
		t.Fatalf("expected no items")
	}
	if !errors.Is(it.Err(), boom) {
		t.Fatalf("expected error, got %v", it.Err())
	}
}

func TestJsonlDecodeErrors(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "decode_errors.jsonl")
	s := NewJsonlDecodeErrors(path)
	if err := s.PutDecodeErrors(ctx, nil); err != nil {
		t.Fatalf("empty put: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty put should not create the file: %v", err)
	}
	errs := []model.DecodeError{
		{Signature: "sig1", Slot: 10, LogIndex: 2, Error: "base64"},
		{Signature: "sig2", Slot: 11, LogIndex: 0, Error: "short"},
	}
	if err := s.PutDecodeErrors(ctx, errs); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"signature":"sig2"`) {
		t.Fatalf("unexpected lines: %q", lines)
	}
}
