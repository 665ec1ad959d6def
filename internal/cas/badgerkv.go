package cas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
)

// BadgerKV is the disk-backed backend. Badger transactions keep writes
// atomic, so a cancelled or failed store never leaves a partial entry
// behind.
type BadgerKV struct {
	db *badgerdb.DB
}

// OpenBadger opens (or creates) a Badger database under dir.
func OpenBadger(dir string, syncWrites bool, logger *slog.Logger) (*BadgerKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	opts := badgerdb.DefaultOptions(dir)
	opts.SyncWrites = syncWrites
	opts.Logger = badgerSlogAdapter{logger: logger}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return b.mapErr(err)
}

func (b *BadgerKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, b.mapErr(err)
	}
	return value, nil
}

func (b *BadgerKV) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, b.mapErr(err)
	}
	return true, nil
}

func (b *BadgerKV) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	removed := false
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, b.mapErr(err)
	}
	return removed, nil
}

func (b *BadgerKV) ForEachKey(ctx context.Context, fn func(key string) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(string(it.Item().KeyCopy(nil))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerKV) ForEach(ctx context.Context, fn func(key string, value []byte) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

func (b *BadgerKV) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return ErrKeyNotFound
	case errors.Is(err, badgerdb.ErrDBClosed):
		return ErrClosed
	default:
		return err
	}
}

// badgerSlogAdapter routes badger's internal logging through slog at debug
// level; badger is chatty and none of it is user-relevant.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (a badgerSlogAdapter) Errorf(format string, args ...any) { a.log(slog.LevelError, format, args) }
func (a badgerSlogAdapter) Warningf(format string, args ...any) {
	a.log(slog.LevelWarn, format, args)
}
func (a badgerSlogAdapter) Infof(format string, args ...any)  { a.log(slog.LevelDebug, format, args) }
func (a badgerSlogAdapter) Debugf(format string, args ...any) { a.log(slog.LevelDebug, format, args) }

func (a badgerSlogAdapter) log(level slog.Level, format string, args []any) {
	if a.logger == nil {
		return
	}
	a.logger.Log(context.Background(), level, fmt.Sprintf(format, args...), "component", "badger")
}
