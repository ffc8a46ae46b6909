package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"binExchange/internal/storage/leveldb"
)

func TestFileCheckpoint(t *testing.T) {
	ctx := context.Background()
	cp := NewFileCheckpoint(filepath.Join(t.TempDir(), "state", "checkpoint.json"))

	if _, ok, err := cp.Load(ctx); err != nil || ok {
		t.Fatalf("fresh checkpoint: ok=%v err=%v", ok, err)
	}
	if err := cp.Save(ctx, 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	cursor, ok, err := cp.Load(ctx)
	if err != nil || !ok || cursor != 42 {
		t.Fatalf("load: cursor=%d ok=%v err=%v", cursor, ok, err)
	}
}

func TestFileCheckpointDirectory(t *testing.T) {
	cp := NewFileCheckpoint(t.TempDir())
	if _, _, err := cp.Load(context.Background()); err == nil {
		t.Fatalf("expected error for directory path")
	}
}

func TestNamedCheckpointLevelDB(t *testing.T) {
	ctx := context.Background()
	db, err := leveldb.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	chain := NamedCheckpoint{Store: db, Name: "chain"}
	log := NamedCheckpoint{Store: db, Name: "jsonl"}
	if err := chain.Save(ctx, 900); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := log.Load(ctx); err != nil || ok {
		t.Fatalf("names must not collide: ok=%v err=%v", ok, err)
	}
	cursor, ok, err := chain.Load(ctx)
	if err != nil || !ok || cursor != 900 {
		t.Fatalf("load: cursor=%d ok=%v err=%v", cursor, ok, err)
	}
}
