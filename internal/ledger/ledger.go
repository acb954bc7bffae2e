package ledger

import (
	"context"
	"errors"

	"github.com/rickgao/market-replica/internal/model"
)

// ErrNotFound is returned when the ledger has no market with the given id.
var ErrNotFound = errors.New("market not found")

// Kind identifies a notification channel.
type Kind string

const (
	KindCreation Kind = "market_created"
	KindPrice    Kind = "price_changed"
	KindFee      Kind = "fee_changed"
)

// AllKinds returns every notification kind in subscription order.
func AllKinds() []Kind {
	return []Kind{KindCreation, KindPrice, KindFee}
}

// Lister enumerates markets.
type Lister interface {
	// ListBranches returns all branch ids.
	ListBranches(ctx context.Context) ([]string, error)

	// ListMarketIDs returns the market ids in a branch, oldest first.
	ListMarketIDs(ctx context.Context, branch string) ([]string, error)
}

// Reader fetches market detail.
type Reader interface {
	// GetMarket returns market info and outcomes, or ErrNotFound.
	GetMarket(ctx context.Context, id string) (*RawMarket, error)

	// GetMarketEvents returns the events that resolve a market.
	GetMarketEvents(ctx context.Context, id string) ([]RawEvent, error)

	// GetMarketTrades returns the trade history of a market.
	GetMarketTrades(ctx context.Context, id string) ([]RawTrade, error)
}

// Handler receives notifications for one subscription.
// Handlers are called from the delivery goroutine and must not block.
type Handler func(Notification)

// Subscription is a live registration for one notification kind.
type Subscription struct {
	ID   string // Delivery id, stable across reconnects
	Kind Kind
}

// Subscriber manages notification subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, kind Kind, h Handler) (Subscription, error)
	Unsubscribe(ctx context.Context, sub Subscription) error
}

// Ledger is the full capability the replica needs.
type Ledger interface {
	Lister
	Reader
	Subscriber
}

// Notification is a change pushed by the ledger. Which fields are set
// depends on Kind.
type Notification struct {
	Kind     Kind   `json:"-"`
	MarketID string `json:"market_id"`
	BranchID string `json:"branch_id,omitempty"`

	// Price notifications
	TradeID     string `json:"trade_id,omitempty"`
	Outcome     int    `json:"outcome,omitempty"`
	Type        string `json:"type,omitempty"` // "buy" or "sell"
	Price       string `json:"price,omitempty"`
	Shares      string `json:"shares,omitempty"`
	Cost        string `json:"cost,omitempty"`
	Account     string `json:"account,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`

	// Fee notifications
	MakerFee    *string `json:"maker_fee,omitempty"`
	TakerFee    *string `json:"taker_fee,omitempty"`
	TradingFee  *string `json:"trading_fee,omitempty"`
	CreationFee *string `json:"creation_fee,omitempty"`
	Volume      *string `json:"volume,omitempty"`
}

// Trade converts a price notification into a normalised history entry.
func (n Notification) Trade() (model.Trade, error) {
	t := model.Trade{
		TradeID:     n.TradeID,
		MarketID:    n.MarketID,
		Outcome:     n.Outcome,
		Type:        n.Type,
		Price:       n.Price,
		Shares:      n.Shares,
		Cost:        n.Cost,
		BlockNumber: n.BlockNumber,
		Timestamp:   n.Timestamp,
		Account:     n.Account,
	}
	if err := t.Normalize(); err != nil {
		return model.Trade{}, err
	}
	return t, nil
}

// Patch converts a fee notification into a sparse market update.
func (n Notification) Patch() model.MarketPatch {
	return model.MarketPatch{
		MakerFee:    n.MakerFee,
		TakerFee:    n.TakerFee,
		TradingFee:  n.TradingFee,
		CreationFee: n.CreationFee,
		Volume:      n.Volume,
	}
}
