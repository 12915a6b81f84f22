package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/aristath/taskgraph/internal/dataset"
)

// BadgerConfig holds configuration for a Badger key-value store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal messages. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger.Logger.
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

// BadgerStore is an embedded key-value database whose keys serve as
// repositories.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the store described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
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
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Key returns a repository bound to key.
func (s *BadgerStore) Key(key string) *BadgerKey {
	return &BadgerKey{store: s, key: []byte(key)}
}

// BadgerKey stores one Data under one key, encoded like LocalFile.
type BadgerKey struct {
	store *BadgerStore
	key   []byte
}

func (k *BadgerKey) Save(ctx context.Context, d dataset.Data) error {
	b, err := encode("BadgerKey", d)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k.key, b)
	})
}

func (k *BadgerKey) Load(ctx context.Context, ctor dataset.Constructor) (dataset.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := k.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load key %q: %w", k.key, err)
	}
	return ctor(k, raw)
}
