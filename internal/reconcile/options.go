package reconcile

import (
	"time"

	"github.com/rickgao/market-replica/internal/config"
	"github.com/rickgao/market-replica/internal/scanner"
	"github.com/rickgao/market-replica/internal/subscription"
)

// Options controls what a session does on Watch.
type Options struct {
	Scan      bool          // Baseline scan before subscribing
	Filtering bool          // Subscribe to ledger notifications
	Interval  time.Duration // Rescan period (0 = no interval scans)

	Scanner       scanner.Config
	Subscriptions subscription.Config
}

// DefaultOptions scans once and subscribes to every notification kind.
func DefaultOptions() Options {
	return Options{
		Scan:          true,
		Filtering:     true,
		Scanner:       scanner.DefaultConfig(),
		Subscriptions: subscription.DefaultConfig(),
	}
}

// OptionsFromConfig converts the watch section of the replicator config.
func OptionsFromConfig(cfg config.WatchConfig) Options {
	opts := DefaultOptions()
	opts.Scan = cfg.ScanEnabled()
	opts.Filtering = cfg.FilteringEnabled()
	opts.Interval = cfg.Interval

	opts.Scanner.Limit = cfg.Limit
	if cfg.Concurrency > 0 {
		opts.Scanner.Concurrency = cfg.Concurrency
	}
	if cfg.MarketTimeout > 0 {
		opts.Scanner.MarketTimeout = cfg.MarketTimeout
		opts.Subscriptions.DispatchTimeout = cfg.MarketTimeout
	}
	return opts
}
