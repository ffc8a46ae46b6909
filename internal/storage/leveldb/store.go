package leveldb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	appliedPrefix = "applied-"
	statePrefix   = "state-"
)

// Store is a local applied-id set and cursor store.
type Store struct {
	db *leveldb.DB
	// serializes check-then-put in Add
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func appliedKey(id common.Hash) []byte {
	return append([]byte(appliedPrefix), id.Bytes()...)
}

func (s *Store) Add(_ context.Context, id common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := appliedKey(id)
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", id.Hex(), err)
	}
	if ok {
		return false, nil
	}
	if err := s.db.Put(key, []byte{1}, &opt.WriteOptions{Sync: true}); err != nil {
		return false, fmt.Errorf("mark applied %s: %w", id.Hex(), err)
	}
	return true, nil
}

func (s *Store) Has(_ context.Context, id common.Hash) (bool, error) {
	ok, err := s.db.Has(appliedKey(id), nil)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", id.Hex(), err)
	}
	return ok, nil
}

// LoadState returns the cursor saved under name.
func (s *Store) LoadState(_ context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	v, err := s.db.Get([]byte(statePrefix+name), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	cursor, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse state %s: %w", name, err)
	}
	return cursor, true, nil
}

// SaveState stores the cursor under name.
func (s *Store) SaveState(_ context.Context, name string, cursor uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	return s.db.Put([]byte(statePrefix+name), []byte(strconv.FormatUint(cursor, 10)), &opt.WriteOptions{Sync: true})
}
