package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// BadgerConfig configures the embedded store
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// BadgerStore keeps snappy-compressed JSON snapshots in badger
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens or creates the database
func OpenBadger(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
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
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(kind Kind, id string) []byte {
	return []byte(string(kind) + "/" + id)
}

// Load decodes one entity
func (s *BadgerStore) Load(ctx context.Context, kind Kind, id string, v any) error {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(kind, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s %s: %w", kind, id, err)
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("decompress %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

// Save writes one entity
func (s *BadgerStore) Save(ctx context.Context, kind Kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	data := snappy.Encode(nil, raw)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(kind, id), data)
	}); err != nil {
		return fmt.Errorf("write %s %s: %w", kind, id, err)
	}
	return nil
}

// Delete removes one entity
func (s *BadgerStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(kind, id))
	}); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

// Keys lists ids of one kind
func (s *BadgerStore) Keys(ctx context.Context, kind Kind) ([]string, error) {
	prefix := []byte(string(kind) + "/")
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return keys, nil
}

// Close flushes and closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
