package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"binExchange/internal/aggregate"
	"binExchange/internal/config"
	"binExchange/internal/indexer"
	"binExchange/internal/storage"
	"binExchange/internal/storage/leveldb"
	"binExchange/internal/storage/memory"
	"binExchange/internal/storage/postgres"
)

// stores is the storage a command works against. State is nil for the
// memory store.
type stores struct {
	records storage.RecordStore
	ids     storage.IDSet
	state   indexer.StateStore
	metrics aggregate.MetricsSink
	mem     *memory.Store
	closers []func()
}

func openStores(ctx context.Context, cfg config.Storage, logger *zap.Logger) (*stores, error) {
	mem := memory.NewStore()
	s := &stores{records: mem, ids: memory.NewIDSet(), metrics: mem, mem: mem}
	switch cfg.Kind {
	case config.StorageMemory:
	case config.StoragePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		s.records, s.ids, s.state, s.metrics = pg, pg, pg, pg
		s.closers = append(s.closers, pg.Close)
		logger.Info("postgres store ready", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	case config.StorageLevelDB:
		db, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		s.ids, s.state = db, db
		s.closers = append(s.closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("close leveldb", zap.Error(err))
			}
		})
		logger.Info("leveldb store ready", zap.String("path", cfg.LevelDBPath))
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
	return s, nil
}

// checkpoint prefers an explicit file, then the durable store.
func (s *stores) checkpoint(path, name string) indexer.Checkpoint {
	if path != "" {
		return indexer.NewFileCheckpoint(path)
	}
	if s.state != nil {
		return indexer.NamedCheckpoint{Store: s.state, Name: name}
	}
	return nil
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
