package collector

import (
	"errors"
	"fmt"

	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
)

// toMarket validates raw and converts it to a stored document. Decimal
// fields are normalised so equal values always encode identically.
func toMarket(raw *ledger.RawMarket, events []ledger.RawEvent) (*model.Market, error) {
	if raw.ID == "" {
		return nil, errors.New("empty id")
	}
	if raw.BranchID == "" {
		return nil, errors.New("empty branch id")
	}
	if len(raw.Outcomes) == 0 {
		return nil, errors.New("no outcomes")
	}
	if err := model.CheckSegment("id", raw.ID); err != nil {
		return nil, err
	}
	if err := model.CheckSegment("branch", raw.BranchID); err != nil {
		return nil, err
	}

	m := &model.Market{
		ID:              raw.ID,
		BranchID:        raw.BranchID,
		Description:     raw.Description,
		Type:            raw.Type,
		Tags:            raw.Tags,
		WinningOutcomes: raw.WinningOutcomes,
		Creator:         raw.Creator,
		CreationTime:    raw.CreationTime,
		CreationBlock:   raw.CreationBlock,
	}

	fields := []struct {
		name string
		in   string
		out  *string
	}{
		{"maker_fee", raw.MakerFee, &m.Fees.MakerFee},
		{"taker_fee", raw.TakerFee, &m.Fees.TakerFee},
		{"trading_fee", raw.TradingFee, &m.Fees.TradingFee},
		{"creation_fee", raw.CreationFee, &m.Fees.CreationFee},
		{"volume", raw.Volume, &m.Volume},
	}
	for _, f := range fields {
		v, err := model.NormalizeDecimal(f.in)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", f.name, f.in, err)
		}
		*f.out = v
	}

	m.Outcomes = make([]model.Outcome, 0, len(raw.Outcomes))
	for _, o := range raw.Outcomes {
		if err := model.CheckOutcomeID(o.ID); err != nil {
			return nil, err
		}
		shares, err := model.NormalizeDecimal(o.OutstandingShares)
		if err != nil {
			return nil, fmt.Errorf("outcome %d shares %q: %w", o.ID, o.OutstandingShares, err)
		}
		price, err := model.NormalizeDecimal(o.Price)
		if err != nil {
			return nil, fmt.Errorf("outcome %d price %q: %w", o.ID, o.Price, err)
		}
		m.Outcomes = append(m.Outcomes, model.Outcome{ID: o.ID, OutstandingShares: shares, Price: price})
	}

	m.Events = make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			return nil, errors.New("event with empty id")
		}
		m.Events = append(m.Events, model.Event{ID: e.ID, Expiration: e.Expiration, Outcome: e.Outcome})
	}

	return m, nil
}

// toTrade converts a ledger trade on market id to a history entry.
func toTrade(id string, raw ledger.RawTrade) (model.Trade, error) {
	t := model.Trade{
		TradeID:     raw.TradeID,
		MarketID:    id,
		Outcome:     raw.Outcome,
		Type:        raw.Type,
		Price:       raw.Price,
		Shares:      raw.Shares,
		Cost:        raw.Cost,
		BlockNumber: raw.BlockNumber,
		Timestamp:   raw.Timestamp,
		Account:     raw.Account,
	}
	if err := t.Normalize(); err != nil {
		return model.Trade{}, err
	}
	return t, nil
}
