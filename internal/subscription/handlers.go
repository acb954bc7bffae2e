package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/market-replica/internal/collector"
	"github.com/rickgao/market-replica/internal/event"
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/writer"
)

// handleCreation stores a newly created market. A market the ledger cannot
// serve yet produces no event; the next scan picks it up.
func (m *Manager) handleCreation(ctx context.Context, n ledger.Notification) (event.Event, error) {
	snap, err := m.collector.Collect(ctx, n.MarketID)
	if errors.Is(err, collector.ErrNotFound) {
		m.logger.Info("created market not collectable yet", "market_id", n.MarketID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := m.writer.UpsertCollected(ctx, snap.Market, snap.CollectedAt, snap.Trades...)
	if err != nil {
		return nil, err
	}
	return event.Created{Notification: n, Market: res.Market}, nil
}

// handlePrice re-collects the affected market only and appends the notified
// trade to its history.
func (m *Manager) handlePrice(ctx context.Context, n ledger.Notification) (event.Event, error) {
	snap, err := m.collector.Collect(ctx, n.MarketID)
	if errors.Is(err, collector.ErrNotFound) {
		m.logger.Info("price change for unknown market", "market_id", n.MarketID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	trades := snap.Trades
	if n.Price != "" {
		t, err := n.Trade()
		if err != nil {
			return nil, fmt.Errorf("%w: price notification for %s: %v", collector.ErrMalformed, n.MarketID, err)
		}
		trades = append(trades, t)
	}

	res, err := m.writer.UpsertCollected(ctx, snap.Market, snap.CollectedAt, trades...)
	if err != nil {
		return nil, err
	}
	return event.PriceChanged{Notification: n, Market: res.Market, Outcome: n.Outcome}, nil
}

// handleFee patches only the fee and volume fields. A market that is not
// stored yet is collected in full instead.
func (m *Manager) handleFee(ctx context.Context, n ledger.Notification) (event.Event, error) {
	patch := n.Patch()

	var market *model.Market
	stored, err := m.writer.UpsertFields(ctx, n.MarketID, patch)
	switch {
	case err == nil:
		market = stored
	case errors.Is(err, writer.ErrUnknownMarket):
		m.logger.Debug("fee change for unstored market, collecting", "market_id", n.MarketID)
		snap, err := m.collector.Collect(ctx, n.MarketID)
		if errors.Is(err, collector.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		res, err := m.writer.UpsertCollected(ctx, snap.Market, snap.CollectedAt, snap.Trades...)
		if err != nil {
			return nil, err
		}
		market = res.Market
	default:
		return nil, err
	}

	return event.FeeChanged{Notification: n, Market: market}, nil
}
