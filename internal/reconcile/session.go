package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/market-replica/internal/collector"
	"github.com/rickgao/market-replica/internal/event"
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/scanner"
	"github.com/rickgao/market-replica/internal/store"
	"github.com/rickgao/market-replica/internal/subscription"
	"github.com/rickgao/market-replica/internal/writer"
)

// Errors
var (
	ErrAlreadyWatching = errors.New("session already watching")
	ErrSessionClosed   = errors.New("session closed")
)

// Teardown reports what Unwatch released.
type Teardown struct {
	TimerStopped         bool                  // Interval scans stopped (or never started)
	SubscriptionsStopped []ledger.Kind         // Kinds unsubscribed cleanly
	SubscriptionErrors   map[ledger.Kind]error // Kinds whose unsubscribe failed
	HandlersDrained      bool                  // No notification handler still running
	StoreClosed          bool
	StoreErr             error
}

// OK reports whether everything was released without error.
func (t Teardown) OK() bool {
	return t.TimerStopped &&
		len(t.SubscriptionErrors) == 0 &&
		t.HandlersDrained &&
		t.StoreClosed &&
		t.StoreErr == nil
}

// Status is a point-in-time view of a session.
type Status struct {
	Watching        bool
	Closed          bool
	IntervalRunning bool
	ActiveKinds     []ledger.Kind
}

// Session owns one store and everything that writes to it.
type Session struct {
	opts     Options
	store    store.Store
	observer event.Observer
	logger   *slog.Logger

	writer  *writer.Writer
	scanner *scanner.Scanner
	subs    *subscription.Manager

	mu       sync.Mutex
	watching bool
	closed   bool // Unwatch called, no new Watch or Scan
	released bool // Store closed, nothing left to tear down
	loop     *scanner.Loop
	abort    context.CancelFunc // Cancels a Watch still in progress
	started  chan struct{}      // Closed when that Watch returns
}

// New creates a Session over l and st. The session owns st and closes it on
// Unwatch. observer may be nil.
func New(opts Options, l ledger.Ledger, st store.Store, observer event.Observer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = func(event.Event) {}
	}

	w := writer.New(st, logger.With("component", "writer"))
	c := collector.New(l, logger.With("component", "collector"))

	return &Session{
		opts:     opts,
		store:    st,
		observer: observer,
		logger:   logger,
		writer:   w,
		scanner:  scanner.New(opts.Scanner, l, c, w, logger.With("component", "scanner")),
		subs: subscription.NewManager(opts.Subscriptions, l, c, w, observer,
			logger.With("component", "subscriptions")),
	}
}

// Watch starts reconciliation. The baseline scan, when enabled, completes
// before anything is subscribed; if it fails, Watch reports event.Failed and
// returns the error with nothing left running. Interval scans run until
// Unwatch or until ctx is cancelled.
func (s *Session) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.watching {
		s.mu.Unlock()
		return ErrAlreadyWatching
	}
	s.watching = true
	watchCtx, abort := context.WithCancel(ctx)
	started := make(chan struct{})
	s.abort, s.started = abort, started
	s.mu.Unlock()

	defer func() {
		abort()
		s.mu.Lock()
		s.abort = nil
		s.mu.Unlock()
		close(started)
	}()

	if err := s.watch(ctx, watchCtx); err != nil {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("watching",
		"scan", s.opts.Scan,
		"filtering", s.opts.Filtering,
		"interval", s.opts.Interval,
	)
	return nil
}

func (s *Session) watch(ctx, watchCtx context.Context) error {
	if s.opts.Scan {
		n, err := s.scanner.Scan(watchCtx)
		if err != nil {
			s.observer(event.Failed{Source: event.SourceScan, Err: err})
			return fmt.Errorf("baseline scan: %w", err)
		}
		s.observer(event.Scanned{Count: n})
	}

	if s.opts.Filtering {
		if err := watchCtx.Err(); err != nil {
			return err
		}
		if err := s.subs.Start(watchCtx); err != nil {
			s.observer(event.Failed{Source: event.SourceSubscribe, Err: err})
			return err
		}
	}

	if s.opts.Interval > 0 {
		if err := watchCtx.Err(); err != nil {
			s.subs.Stop(context.Background())
			return err
		}
		loop := scanner.NewLoop(s.scanner, s.opts.Interval, s.onIntervalPass, s.logger)
		if err := loop.Start(ctx); err != nil {
			s.subs.Stop(context.Background())
			return err
		}
		s.mu.Lock()
		s.loop = loop
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) onIntervalPass(count int, err error) {
	if err != nil {
		s.observer(event.Failed{Source: event.SourceInterval, Err: err})
		return
	}
	s.observer(event.Scanned{Count: count})
}

// Unwatch stops interval scans, then subscriptions, then closes the store.
// A Watch still in progress is cancelled first. Waits are bounded by ctx;
// when the Watch call, the interval loop or a notification handler is still
// running at that point, the store stays open and the Teardown reports it.
// Calling Unwatch again retries what is left, and once everything is
// released it returns a clean Teardown without doing anything.
func (s *Session) Unwatch(ctx context.Context) Teardown {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return Teardown{
			TimerStopped:         true,
			SubscriptionsStopped: []ledger.Kind{},
			HandlersDrained:      true,
			StoreClosed:          true,
		}
	}
	s.closed = true
	abort, started := s.abort, s.started
	s.mu.Unlock()

	watchReturned := true
	if abort != nil {
		abort()
		select {
		case <-started:
		case <-ctx.Done():
			watchReturned = false
			s.logger.Warn("timed out waiting for watch to return")
		}
	}

	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()

	var td Teardown
	td.TimerStopped = loop == nil || loop.Stop(ctx)
	if td.TimerStopped {
		s.mu.Lock()
		if s.loop == loop {
			s.loop = nil
		}
		s.mu.Unlock()
	}

	subs := s.subs.Stop(ctx)
	td.SubscriptionsStopped = subs.Stopped
	td.SubscriptionErrors = subs.Errors
	td.HandlersDrained = subs.Drained

	if !watchReturned || !td.TimerStopped || !td.HandlersDrained {
		s.logger.Warn("store left open, consumers still running",
			"watch_returned", watchReturned,
			"timer_stopped", td.TimerStopped,
			"handlers_drained", td.HandlersDrained,
		)
		return td
	}

	if err := s.store.Close(); err != nil {
		td.StoreErr = err
		s.logger.Error("close store", "err", err)
	} else {
		td.StoreClosed = true
	}

	s.mu.Lock()
	s.released = true
	s.watching = false
	s.mu.Unlock()

	s.logger.Info("unwatched",
		"timer_stopped", td.TimerStopped,
		"subscriptions_stopped", td.SubscriptionsStopped,
		"handlers_drained", td.HandlersDrained,
		"store_closed", td.StoreClosed,
	)
	return td
}

// Scan runs one pass outside the interval loop. It waits for a pass already
// running rather than overlapping it.
func (s *Session) Scan(ctx context.Context) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrSessionClosed
	}

	n, err := s.scanner.Scan(ctx)
	if err != nil {
		s.observer(event.Failed{Source: event.SourceScan, Err: err})
		return 0, err
	}
	s.observer(event.Scanned{Count: n})
	return n, nil
}

// Status returns the current session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		Watching: s.watching,
		Closed:   s.closed,
	}
	loop := s.loop
	s.mu.Unlock()

	st.IntervalRunning = loop != nil && loop.Running()
	st.ActiveKinds = s.subs.ActiveKinds()
	return st
}

// Writer returns the session's writer.
func (s *Session) Writer() *writer.Writer { return s.writer }

// Scanner returns the session's scanner.
func (s *Session) Scanner() *scanner.Scanner { return s.scanner }

// Subscriptions returns the session's subscription manager.
func (s *Session) Subscriptions() *subscription.Manager { return s.subs }
