package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PassFunc receives the outcome of every interval pass.
type PassFunc func(count int, err error)

// Loop repeats scanner passes on a fixed interval. A tick that arrives while
// a pass is still running is skipped. The loop ends after the first failed
// pass.
type Loop struct {
	scanner  *Scanner
	interval time.Duration
	onPass   PassFunc
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a Loop. onPass may be nil.
func NewLoop(s *Scanner, interval time.Duration, onPass PassFunc, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if onPass == nil {
		onPass = func(int, error) {}
	}
	return &Loop{
		scanner:  s,
		interval: interval,
		onPass:   onPass,
		logger:   logger,
	}
}

// Start begins the interval loop. The first pass runs one interval after
// Start.
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return errors.New("scan interval must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return errors.New("scan loop already started")
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go l.run(ctx, l.done)

	l.logger.Info("interval scans started", "interval", l.interval)
	return nil
}

// Stop cancels the loop and waits for a running pass to return, bounded by
// ctx. It returns true once the loop goroutine has exited. Stopping a loop
// that never started, or already stopped, returns true.
func (l *Loop) Stop(ctx context.Context) bool {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if done == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		l.logger.Warn("interval scan stop timed out")
		return false
	}
}

// Running reports whether the loop goroutine is alive.
func (l *Loop) Running() bool {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := l.scanner.TryScan(ctx)
			if errors.Is(err, ErrScanInProgress) {
				l.logger.Debug("skipping tick, scan in progress")
				continue
			}
			if ctx.Err() != nil {
				return
			}

			l.onPass(count, err)
			if err != nil {
				l.logger.Error("interval scan failed, stopping interval scans", "err", err)
				return
			}
		}
	}
}
