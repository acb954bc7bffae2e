package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/market-replica/internal/config"
)

// Errors
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store closed")
)

// Store is a key-value store with ordered prefix scans.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every entry whose key starts with prefix, in key order.
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)

	// Write applies all operations in b as one unit where the backend allows.
	Write(ctx context.Context, b *Batch) error

	// Ping verifies the store is usable.
	Ping(ctx context.Context) error

	// Close releases the store. Safe to call more than once.
	Close() error
}

var (
	_ Store = (*LevelDB)(nil)
	_ Store = (*Postgres)(nil)
)

// KV is a single key/value pair returned by ScanPrefix.
type KV struct {
	Key   string
	Value []byte
}

// Batch collects puts and deletes to apply together.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    string
	value  []byte
	delete bool
}

// Put queues a write.
func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete queues a removal.
func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "leveldb":
		logger.Info("opening leveldb store", "path", cfg.Path)
		db, err := OpenLevelDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		logger.Info("connecting to postgres store",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
