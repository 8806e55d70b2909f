package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

// BadgerConfig configures the embedded on-disk store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	Logger   *log.Logger
}

// BadgerStore keeps slots in an embedded Badger database, the closest thing
// to browser local storage for a process on a workstation.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }

func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }

func (l badgerLogger) Infof(format string, args ...interface{}) { l.logger.Debugf(format, args...) }

func (l badgerLogger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }

// OpenBadger opens (creating if needed) the store described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Get(ctx context.Context, slot string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(slot))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return "", false, ErrClosed
		}
		return "", false, err
	}
	return string(val), true, nil
}

func (b *BadgerStore) Set(ctx context.Context, slot, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(slot), []byte(value))
	})
}

func (b *BadgerStore) Delete(ctx context.Context, slots ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, s := range slots {
			if err := txn.Delete([]byte(s)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
