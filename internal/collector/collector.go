package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
)

// Errors
var (
	ErrNotFound  = errors.New("market not found")
	ErrMalformed = errors.New("malformed market")
)

// Snapshot is a market document plus its trade history at collection time.
type Snapshot struct {
	Market      *model.Market
	Trades      []model.Trade
	CollectedAt time.Time // When the first ledger read started
}

// Collector reads markets from the ledger.
type Collector struct {
	reader ledger.Reader
	logger *slog.Logger
}

// New creates a Collector.
func New(reader ledger.Reader, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		reader: reader,
		logger: logger,
	}
}

// Collect fetches the complete document for id.
func (c *Collector) Collect(ctx context.Context, id string) (*Snapshot, error) {
	start := time.Now()
	raw, err := c.reader.GetMarket(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("collect %s: %w", id, err)
	}

	var (
		events []ledger.RawEvent
		trades []ledger.RawTrade
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = c.reader.GetMarketEvents(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = c.reader.GetMarketTrades(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("collect %s: %w", id, err)
	}

	if len(events) == 0 {
		c.logger.Debug("market has no events yet", "market_id", id)
		return nil, fmt.Errorf("%w: %s has no events", ErrNotFound, id)
	}

	m, err := toMarket(raw, events)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}

	snap := &Snapshot{
		Market:      m,
		Trades:      make([]model.Trade, 0, len(trades)),
		CollectedAt: start,
	}
	for i := range trades {
		t, err := toTrade(id, trades[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: trade %d: %v", ErrMalformed, id, i, err)
		}
		snap.Trades = append(snap.Trades, t)
	}

	return snap, nil
}
