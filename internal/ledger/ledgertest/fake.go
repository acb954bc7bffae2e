// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/market-replica/internal/ledger"
)

// Fake is an in-memory ledger.Ledger. Markets are listed per branch in the
// order they were added.
type Fake struct {
	mu sync.Mutex

	branches []string
	byBranch map[string][]string
	markets  map[string]ledger.RawMarket
	events   map[string][]ledger.RawEvent
	trades   map[string][]ledger.RawTrade

	handlers map[string]fakeSub

	// Injected failures, keyed by market id.
	getErr    map[string]error
	eventsErr map[string]error
	tradesErr map[string]error

	// SubscribeErr fails Subscribe for the given kind.
	subscribeErr map[ledger.Kind]error

	// ReadDelay is applied to every GetMarket call.
	ReadDelay time.Duration

	// Call counters
	GetMarketCalls   int
	SubscribeCalls   int
	UnsubscribeCalls int
}

type fakeSub struct {
	kind    ledger.Kind
	handler ledger.Handler
}

var _ ledger.Ledger = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		byBranch:     make(map[string][]string),
		markets:      make(map[string]ledger.RawMarket),
		events:       make(map[string][]ledger.RawEvent),
		trades:       make(map[string][]ledger.RawTrade),
		handlers:     make(map[string]fakeSub),
		getErr:       make(map[string]error),
		eventsErr:    make(map[string]error),
		tradesErr:    make(map[string]error),
		subscribeErr: make(map[ledger.Kind]error),
	}
}

// AddMarket registers m under its branch. Adding an existing id replaces
// the stored market without changing list order.
func (f *Fake) AddMarket(m ledger.RawMarket, events []ledger.RawEvent, trades []ledger.RawTrade) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.markets[m.ID]; !ok {
		if _, ok := f.byBranch[m.BranchID]; !ok {
			f.branches = append(f.branches, m.BranchID)
		}
		f.byBranch[m.BranchID] = append(f.byBranch[m.BranchID], m.ID)
	}
	f.markets[m.ID] = m
	f.events[m.ID] = events
	f.trades[m.ID] = trades
}

// ListOnly makes id appear in listings of branch without any detail, so
// reads return ledger.ErrNotFound.
func (f *Fake) ListOnly(branch, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byBranch[branch]; !ok {
		f.branches = append(f.branches, branch)
	}
	f.byBranch[branch] = append(f.byBranch[branch], id)
}

// FailGetMarket makes GetMarket(id) return err.
func (f *Fake) FailGetMarket(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr[id] = err
}

// FailEvents makes GetMarketEvents(id) return err.
func (f *Fake) FailEvents(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventsErr[id] = err
}

// FailTrades makes GetMarketTrades(id) return err.
func (f *Fake) FailTrades(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradesErr[id] = err
}

// FailSubscribe makes Subscribe fail for kind.
func (f *Fake) FailSubscribe(kind ledger.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr[kind] = err
}

// ListBranches implements ledger.Lister.
func (f *Fake) ListBranches(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.branches...), nil
}

// ListMarketIDs implements ledger.Lister.
func (f *Fake) ListMarketIDs(ctx context.Context, branch string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.byBranch[branch]...), nil
}

// GetMarket implements ledger.Reader.
func (f *Fake) GetMarket(ctx context.Context, id string) (*ledger.RawMarket, error) {
	f.mu.Lock()
	f.GetMarketCalls++
	delay := f.ReadDelay
	err := f.getErr[id]
	m, ok := f.markets[id]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("get market %s: %w", id, ledger.ErrNotFound)
	}
	return &m, nil
}

// GetMarketEvents implements ledger.Reader.
func (f *Fake) GetMarketEvents(ctx context.Context, id string) ([]ledger.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.eventsErr[id]; err != nil {
		return nil, err
	}
	if _, ok := f.markets[id]; !ok {
		return nil, ledger.ErrNotFound
	}
	return append([]ledger.RawEvent(nil), f.events[id]...), nil
}

// GetMarketTrades implements ledger.Reader.
func (f *Fake) GetMarketTrades(ctx context.Context, id string) ([]ledger.RawTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tradesErr[id]; err != nil {
		return nil, err
	}
	if _, ok := f.markets[id]; !ok {
		return nil, ledger.ErrNotFound
	}
	return append([]ledger.RawTrade(nil), f.trades[id]...), nil
}

// Subscribe implements ledger.Subscriber.
func (f *Fake) Subscribe(ctx context.Context, kind ledger.Kind, h ledger.Handler) (ledger.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubscribeCalls++
	if err := f.subscribeErr[kind]; err != nil {
		return ledger.Subscription{}, err
	}
	id := uuid.NewString()
	f.handlers[id] = fakeSub{kind: kind, handler: h}
	return ledger.Subscription{ID: id, Kind: kind}, nil
}

// Unsubscribe implements ledger.Subscriber.
func (f *Fake) Unsubscribe(ctx context.Context, sub ledger.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnsubscribeCalls++
	if _, ok := f.handlers[sub.ID]; !ok {
		return errors.New("unknown subscription")
	}
	delete(f.handlers, sub.ID)
	return nil
}

// Subscribed reports whether any handler is registered for kind.
func (f *Fake) Subscribed(kind ledger.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.handlers {
		if s.kind == kind {
			return true
		}
	}
	return false
}

// Emit delivers n synchronously to every handler registered for kind and
// returns how many handlers received it.
func (f *Fake) Emit(kind ledger.Kind, n ledger.Notification) int {
	f.mu.Lock()
	var hs []ledger.Handler
	for _, s := range f.handlers {
		if s.kind == kind {
			hs = append(hs, s.handler)
		}
	}
	f.mu.Unlock()

	n.Kind = kind
	for _, h := range hs {
		h(n)
	}
	return len(hs)
}

// Counts returns the call counters under the lock.
func (f *Fake) Counts() (getMarket, subscribe, unsubscribe int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GetMarketCalls, f.SubscribeCalls, f.UnsubscribeCalls
}
