package storage

import (
	"errors"
	"fmt"
	"strings"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// ErrLocked is returned when another process holds the database directory.
var ErrLocked = errors.New("database locked by another process")

// BadgerDB is the on-disk DB.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger opens (or creates) a database in dir.
func NewBadger(dir string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{klog.WithComponent("storage")}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	switch {
	case err == nil:
		return &BadgerDB{db: db}, nil
	case strings.Contains(err.Error(), "Cannot acquire directory lock"),
		strings.Contains(err.Error(), "resource temporarily unavailable"):
		return nil, fmt.Errorf("%w: %s (is partnershipd already running?)", ErrLocked, dir)
	default:
		return nil, fmt.Errorf("badger open %s: %w", dir, err)
	}
}

// lookup runs fn on the item stored under key, mapping a miss to ErrNotFound.
func (b *BadgerDB) lookup(key []byte, fn func(*badger.Item) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fn(item)
	})
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.lookup(key, func(item *badger.Item) (err error) {
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, err
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	err := b.lookup(key, func(*badger.Item) error { return nil })
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	batch := b.NewBatch()
	batch.Put(key, value)
	return batch.Commit()
}

func (b *BadgerDB) Delete(key []byte) error {
	batch := b.NewBatch()
	batch.Delete(key)
	return batch.Commit()
}

// ForEach walks keys under prefix in order. fn receives copies.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch buffers writes and applies them in one transaction.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{db: b.db}
}

// CollectGarbage reclaims value log space until nothing is left to rewrite.
func (b *BadgerDB) CollectGarbage(discardRatio float64) (rewrites int, err error) {
	for {
		err := b.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, fmt.Errorf("badger gc: %w", err)
		}
		rewrites++
	}
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

type badgerBatch struct {
	db  *badger.DB
	ops []batchOp
}

func (bb *badgerBatch) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	bb.ops = append(bb.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (bb *badgerBatch) Delete(key []byte) error {
	bb.ops = append(bb.ops, batchOp{key: copyBytes(key)})
	return nil
}

func (bb *badgerBatch) Commit() error {
	defer func() { bb.ops = nil }()
	return bb.db.Update(func(txn *badger.Txn) error {
		for _, op := range bb.ops {
			apply := txn.Delete
			if op.value != nil {
				apply = func(k []byte) error { return txn.Set(k, op.value) }
			}
			if err := apply(op.key); err != nil {
				return fmt.Errorf("badger batch commit: %w", err)
			}
		}
		return nil
	})
}

// badgerLogger forwards badger's internal messages to zerolog. Info and
// debug chatter is demoted to trace.
type badgerLogger struct {
	l zerolog.Logger
}

func (bl badgerLogger) Errorf(f string, v ...interface{}) {
	bl.l.Error().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (bl badgerLogger) Warningf(f string, v ...interface{}) {
	bl.l.Warn().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (bl badgerLogger) Infof(f string, v ...interface{}) {
	bl.l.Trace().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (bl badgerLogger) Debugf(f string, v ...interface{}) {
	bl.l.Trace().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
