package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"binExchange/internal/model"
)

// JsonlStorage appends events to a JSONL file, one event per line.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string { return s.path }

// PutEventBatch appends a batch of events as JSON lines.
func (s *JsonlStorage) PutEventBatch(ctx context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(ctx, s.path, events)
}

// JsonlDecodeErrors appends undecodable log lines to a JSONL file.
type JsonlDecodeErrors struct {
	path string
	mu   sync.Mutex
}

func NewJsonlDecodeErrors(path string) *JsonlDecodeErrors {
	return &JsonlDecodeErrors{path: path}
}

func (s *JsonlDecodeErrors) PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(ctx, s.path, errs)
}

// appendLines must be called with the owner's lock held.
func appendLines[T any](ctx context.Context, path string, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal line: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return file.Sync()
}

// ReadEvents returns up to limit events starting at line offset, and the
// offset to continue from. A missing file reads as empty.
func (s *JsonlStorage) ReadEvents(ctx context.Context, offset uint64, limit int) ([]model.Event, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("open event file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var (
		line uint64
		out  []model.Event
	)
	for scanner.Scan() {
		if line < offset {
			line++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, offset, err
		}
		var ev model.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, offset, fmt.Errorf("parse event line %d: %w", line, err)
		}
		out = append(out, ev)
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, offset, fmt.Errorf("scan event file: %w", err)
	}
	return out, offset + uint64(len(out)), nil
}

// LastSeq returns the highest sequence number written under source.
func (s *JsonlStorage) LastSeq(ctx context.Context, source string) (uint64, error) {
	var (
		last   uint64
		offset uint64
	)
	for {
		events, next, err := s.ReadEvents(ctx, offset, 1_000)
		if err != nil {
			return 0, err
		}
		for _, ev := range events {
			if ev.Source == source && ev.Seq > last {
				last = ev.Seq
			}
		}
		if next == offset {
			return last, nil
		}
		offset = next
	}
}
