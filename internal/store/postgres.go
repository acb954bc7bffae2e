package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/market-replica/internal/config"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS market_kv (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const upsertSQL = `
	INSERT INTO market_kv (key, value, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`

const deleteSQL = `DELETE FROM market_kv WHERE key = $1`

// Postgres is a Store backed by a single PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenPostgres connects to PostgreSQL and ensures the market_kv table exists.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*Postgres, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create market_kv table: %w", err)
	}

	return &Postgres{pool: pool, closed: make(chan struct{})}, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func (p *Postgres) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Get returns the value stored under key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM market_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

// Put writes value under key.
func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	if p.isClosed() {
		return ErrClosed
	}
	if _, err := p.pool.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("postgres put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if p.isClosed() {
		return ErrClosed
	}
	if _, err := p.pool.Exec(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

// ScanPrefix returns all entries under prefix in byte order.
func (p *Postgres) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	rows, err := p.pool.Query(ctx, `
		SELECT key, value FROM market_kv
		WHERE starts_with(key, $1)
		ORDER BY key COLLATE "C"
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var result []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("postgres scan %s: %w", prefix, err)
		}
		result = append(result, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres scan %s: %w", prefix, err)
	}
	return result, nil
}

// Write applies the batch in a single transaction.
func (p *Postgres) Write(ctx context.Context, b *Batch) error {
	if p.isClosed() {
		return ErrClosed
	}
	if b == nil || b.Len() == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, op := range b.ops {
		if op.delete {
			batch.Queue(deleteSQL, op.key)
		} else {
			batch.Queue(upsertSQL, op.key, op.value)
		}
	}

	results := tx.SendBatch(ctx, batch)
	for range b.ops {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the connection pool is healthy.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the connection pool. Later calls are no-ops.
func (p *Postgres) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.pool.Close()
	})
	return nil
}
