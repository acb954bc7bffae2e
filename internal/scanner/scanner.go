package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-replica/internal/collector"
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/writer"
)

// ErrScanInProgress is returned by TryScan while another pass is running.
var ErrScanInProgress = errors.New("scan already in progress")

// Collector fetches one market.
type Collector interface {
	Collect(ctx context.Context, id string) (*collector.Snapshot, error)
}

// Upserter stores one collected market.
type Upserter interface {
	UpsertCollected(ctx context.Context, m *model.Market, collectedAt time.Time, trades ...model.Trade) (writer.Result, error)
}

// Config holds scanner configuration.
type Config struct {
	Limit         int           // Newest ids scanned per pass (0 = all)
	Concurrency   int           // Max markets in flight (default: 8)
	MarketTimeout time.Duration // Per-market timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		MarketTimeout: 30 * time.Second,
	}
}

// Stats describes completed passes.
type Stats struct {
	Passes       int64
	Failures     int64
	LastCount    int
	LastDuration time.Duration
	LastFinished time.Time
}

// Scanner runs full passes over the ledger.
type Scanner struct {
	cfg       Config
	lister    ledger.Lister
	collector Collector
	writer    Upserter
	logger    *slog.Logger

	// One pass at a time
	pass chan struct{}

	mu    sync.Mutex
	stats Stats
}

// New creates a Scanner.
func New(cfg Config, lister ledger.Lister, c Collector, w Upserter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scanner{
		cfg:       cfg,
		lister:    lister,
		collector: c,
		writer:    w,
		logger:    logger,
		pass:      make(chan struct{}, 1),
	}
}

// Scan runs one pass and returns the number of markets upserted. If another
// pass is running, Scan waits for it to finish first.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	select {
	case s.pass <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.pass }()

	return s.run(ctx)
}

// TryScan runs one pass unless another is running, in which case it returns
// ErrScanInProgress immediately.
func (s *Scanner) TryScan(ctx context.Context) (int, error) {
	select {
	case s.pass <- struct{}{}:
	default:
		return 0, ErrScanInProgress
	}
	defer func() { <-s.pass }()

	return s.run(ctx)
}

// Stats returns statistics for completed passes.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scanner) run(ctx context.Context) (int, error) {
	start := time.Now()

	count, err := s.scanAll(ctx)

	s.mu.Lock()
	s.stats.Passes++
	s.stats.LastDuration = time.Since(start)
	s.stats.LastFinished = time.Now()
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.LastCount = count
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scan failed", "err", err, "duration", time.Since(start))
		return 0, err
	}

	s.logger.Info("scan complete",
		"updated", count,
		"duration", time.Since(start),
	)
	return count, nil
}

func (s *Scanner) scanAll(ctx context.Context) (int, error) {
	ids, err := s.listIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := len(ids)
	if s.cfg.Limit > 0 && s.cfg.Limit < len(ids) {
		ids = ids[len(ids)-s.cfg.Limit:]
	}
	s.logger.Debug("scanning markets", "selected", len(ids), "available", total)

	var updated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, err := s.scanMarket(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				updated.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int(updated.Load()), nil
}

// listIDs concatenates the market ids of every branch in ledger order.
func (s *Scanner) listIDs(ctx context.Context) ([]string, error) {
	branches, err := s.lister.ListBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	var ids []string
	for _, b := range branches {
		branchIDs, err := s.lister.ListMarketIDs(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("list markets in %s: %w", b, err)
		}
		ids = append(ids, branchIDs...)
	}
	return ids, nil
}

// scanMarket collects and upserts one market. It reports false for markets
// the ledger does not have.
func (s *Scanner) scanMarket(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.cfg.MarketTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MarketTimeout)
		defer cancel()
	}

	snap, err := s.collector.Collect(ctx, id)
	if errors.Is(err, collector.ErrNotFound) {
		s.logger.Debug("skipping market", "market_id", id, "reason", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scan market %s: %w", id, err)
	}

	if _, err := s.writer.UpsertCollected(ctx, snap.Market, snap.CollectedAt, snap.Trades...); err != nil {
		return false, fmt.Errorf("scan market %s: %w", id, err)
	}
	return true, nil
}
