package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/market-replica/internal/collector"
	"github.com/rickgao/market-replica/internal/event"
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/writer"
)

// Collector fetches one market.
type Collector interface {
	Collect(ctx context.Context, id string) (*collector.Snapshot, error)
}

// Writer stores markets and patches.
type Writer interface {
	UpsertCollected(ctx context.Context, m *model.Market, collectedAt time.Time, trades ...model.Trade) (writer.Result, error)
	UpsertFields(ctx context.Context, id string, patch model.MarketPatch) (*model.Market, error)
}

// Config holds subscription manager configuration.
type Config struct {
	Kinds           []ledger.Kind // Kinds to subscribe, in order
	DispatchTimeout time.Duration // Per-notification timeout (default: 30s)
}

// DefaultConfig subscribes every kind.
func DefaultConfig() Config {
	return Config{
		Kinds:           ledger.AllKinds(),
		DispatchTimeout: 30 * time.Second,
	}
}

// Teardown reports what Stop released.
type Teardown struct {
	Stopped []ledger.Kind         // Kinds unsubscribed cleanly
	Errors  map[ledger.Kind]error // Kinds whose unsubscribe failed
	Drained bool                  // No handler still running
}

// OK reports whether every active kind was released and no handler is
// still running.
func (t Teardown) OK() bool {
	return len(t.Errors) == 0 && t.Drained
}

// Stats counts notifications.
type Stats struct {
	Dispatched int64 // Handlers started
	Dropped    int64 // Notifications for a kind that was not active
	Failed     int64 // Handlers that reported an error
}

type kindState struct {
	state State
	sub   ledger.Subscription
	gen   uint64 // Incremented on every subscribe, stale handlers are ignored

	// Set while Subscribe is in progress. The ledger may deliver before
	// Subscribe returns.
	starting bool
}

// Manager owns the subscriptions of one session.
type Manager struct {
	cfg       Config
	ledger    ledger.Subscriber
	collector Collector
	writer    Writer
	observer  event.Observer
	logger    *slog.Logger

	mu       sync.Mutex
	kinds    map[ledger.Kind]*kindState
	stats    Stats
	inflight sync.WaitGroup

	// Handlers run under life. Stop cancels it when they do not drain in
	// time; emit is held exclusively while that happens so no observer call
	// starts afterwards.
	life       context.Context
	cancelLife context.CancelFunc
	emit       sync.RWMutex
}

// NewManager creates a Manager. observer may be nil.
func NewManager(cfg Config, sub ledger.Subscriber, c Collector, w Writer, observer event.Observer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = func(event.Event) {}
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}

	kinds := make(map[ledger.Kind]*kindState, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds[k] = &kindState{}
	}

	life, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:        cfg,
		ledger:     sub,
		collector:  c,
		writer:     w,
		observer:   observer,
		logger:     logger,
		kinds:      kinds,
		life:       life,
		cancelLife: cancel,
	}
}

// Start subscribes every configured kind that is not already active. If
// any subscribe fails, the kinds activated so far are torn down and the
// error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.life.Err() != nil {
		m.life, m.cancelLife = context.WithCancel(context.Background())
	}
	m.mu.Unlock()

	for _, kind := range m.cfg.Kinds {
		m.mu.Lock()
		ks := m.kinds[kind]
		if ks.state == StateActive {
			m.mu.Unlock()
			continue
		}
		ks.gen++
		ks.starting = true
		gen := ks.gen
		m.mu.Unlock()

		// Not under mu: delivery of an earlier kind may already call handle.
		sub, err := m.ledger.Subscribe(ctx, kind, m.handler(kind, gen))

		m.mu.Lock()
		ks.starting = false
		if err == nil {
			ks.state = StateActive
			ks.sub = sub
		}
		m.mu.Unlock()

		if err != nil {
			td := m.Stop(ctx)
			m.logger.Error("subscribe failed",
				"kind", kind,
				"err", err,
				"torn_down", td.Stopped,
			)
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}

		m.logger.Info("subscription active", "kind", kind, "delivery_id", sub.ID)
	}
	return nil
}

// Stop unsubscribes every active kind and waits for running handlers,
// bounded by ctx. Handlers still running when ctx ends are cancelled and
// their results are discarded; a later Stop waits for them again. Kinds
// that were never started or are already cancelled are left alone.
func (m *Manager) Stop(ctx context.Context) Teardown {
	type active struct {
		kind ledger.Kind
		sub  ledger.Subscription
	}

	m.mu.Lock()
	var toStop []active
	for _, kind := range m.cfg.Kinds {
		ks := m.kinds[kind]
		if ks.state != StateActive {
			continue
		}
		toStop = append(toStop, active{kind: kind, sub: ks.sub})
		ks.state = StateCancelled
		ks.sub = ledger.Subscription{}
	}
	m.mu.Unlock()

	td := Teardown{Stopped: []ledger.Kind{}}
	for _, a := range toStop {
		if err := m.ledger.Unsubscribe(ctx, a.sub); err != nil {
			if td.Errors == nil {
				td.Errors = make(map[ledger.Kind]error)
			}
			td.Errors[a.kind] = err
			m.logger.Warn("unsubscribe failed", "kind", a.kind, "err", err)
			continue
		}
		td.Stopped = append(td.Stopped, a.kind)
		m.logger.Info("subscription cancelled", "kind", a.kind)
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		td.Drained = true
	case <-ctx.Done():
		m.logger.Warn("timed out waiting for notification handlers, cancelling them")
		m.emit.Lock()
		m.mu.Lock()
		m.cancelLife()
		m.mu.Unlock()
		m.emit.Unlock()
	}

	return td
}

// IsActive reports whether kind is subscribed.
func (m *Manager) IsActive(kind ledger.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, ok := m.kinds[kind]
	return ok && ks.state == StateActive
}

// State returns the lifecycle state of kind. Kinds that are not configured
// report StateUncreated.
func (m *Manager) State(kind ledger.Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks, ok := m.kinds[kind]; ok {
		return ks.state
	}
	return StateUncreated
}

// ActiveKinds returns the subscribed kinds in configuration order.
func (m *Manager) ActiveKinds() []ledger.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Kind
	for _, k := range m.cfg.Kinds {
		if m.kinds[k].state == StateActive {
			out = append(out, k)
		}
	}
	return out
}

// Stats returns notification counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// handler returns the ledger callback for kind. Each accepted notification
// runs in its own goroutine.
func (m *Manager) handler(kind ledger.Kind, gen uint64) ledger.Handler {
	return func(n ledger.Notification) {
		m.mu.Lock()
		ks := m.kinds[kind]
		if ks.gen != gen || (ks.state != StateActive && !ks.starting) {
			m.stats.Dropped++
			m.mu.Unlock()
			m.logger.Debug("dropping notification", "kind", kind, "market_id", n.MarketID)
			return
		}
		m.stats.Dispatched++
		m.inflight.Add(1)
		life := m.life
		m.mu.Unlock()

		go m.dispatch(life, kind, n)
	}
}

func (m *Manager) dispatch(life context.Context, kind ledger.Kind, n ledger.Notification) {
	defer m.inflight.Done()

	ctx, cancel := context.WithTimeout(life, m.cfg.DispatchTimeout)
	defer cancel()

	var (
		ev  event.Event
		err error
	)
	switch kind {
	case ledger.KindCreation:
		ev, err = m.handleCreation(ctx, n)
	case ledger.KindPrice:
		ev, err = m.handlePrice(ctx, n)
	case ledger.KindFee:
		ev, err = m.handleFee(ctx, n)
	default:
		err = fmt.Errorf("unsupported notification kind %q", kind)
	}

	m.emit.RLock()
	defer m.emit.RUnlock()
	if life.Err() != nil {
		m.logger.Debug("discarding result of cancelled handler", "kind", kind, "market_id", n.MarketID)
		return
	}

	if err != nil {
		m.mu.Lock()
		m.stats.Failed++
		m.mu.Unlock()

		m.logger.Warn("notification handler failed",
			"kind", kind,
			"market_id", n.MarketID,
			"err", err,
		)
		m.observer(event.Failed{Source: event.Source(kind), Notification: &n, Err: err})
		return
	}
	if ev != nil {
		m.observer(ev)
	}
}
