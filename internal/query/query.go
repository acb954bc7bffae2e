// Package query reads the replica. It never writes.
//
// Unknown ids give empty results rather than errors.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/store"
)

// BlockRange selects trades by block number, both ends inclusive. A zero To
// leaves the range open at the top.
type BlockRange struct {
	From uint64
	To   uint64
}

// Contains reports whether block falls inside r.
func (r BlockRange) Contains(block uint64) bool {
	if block < r.From {
		return false
	}
	return r.To == 0 || block <= r.To
}

// Service answers read queries from a store.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Service over st.
func New(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// GetMarket returns the stored market, or nil if there is none.
func (s *Service) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.store.Get(ctx, store.MarketKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}

	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", id, err)
	}
	return &m, nil
}

// GetMarketsByBranch returns every stored market of branch, ordered by id.
func (s *Service) GetMarketsByBranch(ctx context.Context, branch string) ([]model.Market, error) {
	entries, err := s.store.ScanPrefix(ctx, store.BranchPrefix(branch))
	if err != nil {
		return nil, fmt.Errorf("scan branch %s: %w", branch, err)
	}

	markets := make([]model.Market, 0, len(entries))
	for _, kv := range entries {
		id := store.MarketIDFromBranchKey(kv.Key)
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			s.logger.Warn("branch index entry without market", "branch", branch, "market_id", id)
			continue
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

// GetMarketsInfo returns the stored markets among ids, keyed by id. Ids
// with no stored market are left out.
func (s *Service) GetMarketsInfo(ctx context.Context, ids []string) (map[string]*model.Market, error) {
	out := make(map[string]*model.Market, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out[id] = m
		}
	}
	return out, nil
}

// GetPriceHistory returns the trades of market id inside r, grouped by
// outcome, each group in block order.
func (s *Service) GetPriceHistory(ctx context.Context, id string, r BlockRange) (map[int][]model.Trade, error) {
	entries, err := s.store.ScanPrefix(ctx, store.PricePrefix(id))
	if err != nil {
		return nil, fmt.Errorf("scan history %s: %w", id, err)
	}

	out := make(map[int][]model.Trade)
	err = decodeTrades(entries, r, func(t model.Trade) {
		out[t.Outcome] = append(out[t.Outcome], t)
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return out, nil
}

// GetAccountTrades returns the trades of account inside r, grouped by market
// and outcome, each group in block order.
func (s *Service) GetAccountTrades(ctx context.Context, account string, r BlockRange) (map[string]map[int][]model.Trade, error) {
	entries, err := s.store.ScanPrefix(ctx, store.AccountPrefix(account))
	if err != nil {
		return nil, fmt.Errorf("scan account %s: %w", account, err)
	}

	out := make(map[string]map[int][]model.Trade)
	err = decodeTrades(entries, r, func(t model.Trade) {
		byOutcome, ok := out[t.MarketID]
		if !ok {
			byOutcome = make(map[int][]model.Trade)
			out[t.MarketID] = byOutcome
		}
		byOutcome[t.Outcome] = append(byOutcome[t.Outcome], t)
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account, err)
	}
	return out, nil
}

// decodeTrades calls fn for every entry inside r, in key order.
func decodeTrades(entries []store.KV, r BlockRange, fn func(model.Trade)) error {
	for _, kv := range entries {
		var t model.Trade
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			return fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		if r.Contains(t.BlockNumber) {
			fn(t)
		}
	}
	return nil
}
