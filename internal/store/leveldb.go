package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a Store backed by an embedded LevelDB database.
type LevelDB struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// OpenLevelDB opens (or creates) a LevelDB database in the given directory.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB returns a LevelDB store held entirely in memory.
func NewMemLevelDB() *LevelDB {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// Memory storage cannot fail to open.
		panic(fmt.Sprintf("open memory leveldb: %v", err))
	}
	return &LevelDB{db: db}
}

// Get returns the value stored under key.
func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	value, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return value, nil
}

// Put writes value under key.
func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (l *LevelDB) Delete(_ context.Context, key string) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete %s: %w", key, err)
	}
	return nil
}

// ScanPrefix returns all entries under prefix in key order.
func (l *LevelDB) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var result []KV
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Iterator buffers are reused, copy before keeping.
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		result = append(result, KV{Key: string(iter.Key()), Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb scan %s: %w", prefix, err)
	}
	return result, nil
}

// Write applies the batch atomically.
func (l *LevelDB) Write(_ context.Context, b *Batch) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if b == nil || b.Len() == 0 {
		return nil
	}

	batch := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.delete {
			batch.Delete([]byte(op.key))
		} else {
			batch.Put([]byte(op.key), op.value)
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write batch: %w", err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (l *LevelDB) Ping(_ context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the database. Later calls are no-ops.
func (l *LevelDB) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}
