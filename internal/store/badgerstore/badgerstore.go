// Package badgerstore is the embedded BadgerDB backend for the rack store.
//
// Records are JSON encoded under three key prefixes:
//
//	rack/<id>     imported rack metadata
//	summary/<id>  latest analysis summary
//	chains/<id>   latest chain set
//
// The summary and chain set of a rack are always written together in one
// transaction so readers never see a partial replace.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

const (
	rackPrefix    = "rack/"
	summaryPrefix = "summary/"
	chainsPrefix  = "chains/"
)

// Config holds configuration for the Badger store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	SyncWrites bool

	// Logger receives Badger's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration suited to tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements store.Store on top of BadgerDB.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open opens (or creates) a Badger store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "badger-store")}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gc = newGCRunner(db, cfg.GCInterval, ratio, s.logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *Store) PutRack(ctx context.Context, rack chain.Rack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rack)
	if err != nil {
		return fmt.Errorf("encode rack %s: %w", rack.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rackPrefix+rack.ID), data)
	})
}

func (s *Store) GetRack(ctx context.Context, rackID string) (*chain.Rack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rack chain.Rack
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, rackPrefix+rackID, &rack)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("rack %s: %w", rackID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load rack %s: %w", rackID, err)
	}
	return &rack, nil
}

// ListRacks returns all racks sorted by ImportedAt descending.
func (s *Store) ListRacks(ctx context.Context) ([]chain.Rack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var racks []chain.Rack
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, rackPrefix, func(val []byte) error {
			var r chain.Rack
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			racks = append(racks, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list racks: %w", err)
	}
	sort.Slice(racks, func(i, j int) bool {
		if racks[i].ImportedAt.Equal(racks[j].ImportedAt) {
			return racks[i].ID < racks[j].ID
		}
		return racks[i].ImportedAt.After(racks[j].ImportedAt)
	})
	return racks, nil
}

func (s *Store) CountRacks(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(rackPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) LoadSummary(ctx context.Context, rackID string) (*chain.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var summary chain.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, summaryPrefix+rackID, &summary)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", rackID, err)
	}
	return &summary, nil
}

func (s *Store) LoadChains(ctx context.Context, rackID string) ([]chain.Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chains []chain.Chain
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chainsPrefix+rackID, &chains)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chains %s: %w", rackID, err)
	}
	return chains, nil
}

func (s *Store) ListSummaries(ctx context.Context) ([]chain.Summary, error) {
	return s.SummariesSince(ctx, time.Time{})
}

func (s *Store) SummariesSince(ctx context.Context, since time.Time) ([]chain.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []chain.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, summaryPrefix, func(val []byte) error {
			var sum chain.Summary
			if err := json.Unmarshal(val, &sum); err != nil {
				return err
			}
			if !sum.ProcessedAt.Before(since) {
				out = append(out, sum)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	// Keys iterate in byte order, which is already rack id order.
	return out, nil
}

func (s *Store) ReplaceAnalysis(ctx context.Context, rackID string, summary chain.Summary, chains []chain.Chain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sumData, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", rackID, err)
	}
	if chains == nil {
		chains = []chain.Chain{}
	}
	chainData, err := json.Marshal(chains)
	if err != nil {
		return fmt.Errorf("encode chains %s: %w", rackID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(rackPrefix + rackID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(summaryPrefix+rackID), sumData); err != nil {
			return err
		}
		return txn.Set([]byte(chainsPrefix+rackID), chainData)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("rack %s: %w", rackID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("replace analysis %s: %w", rackID, err)
	}
	s.logger.Debug("analysis replaced", "rack_id", rackID, "chains", len(chains))
	return nil
}

func (s *Store) DeleteAnalysis(ctx context.Context, rackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(summaryPrefix + rackID)); err != nil {
			return err
		}
		return txn.Delete([]byte(chainsPrefix + rackID))
	})
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scan(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
