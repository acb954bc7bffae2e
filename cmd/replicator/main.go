package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/market-replica/internal/config"
	"github.com/rickgao/market-replica/internal/event"
	"github.com/rickgao/market-replica/internal/httpapi"
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/metrics"
	"github.com/rickgao/market-replica/internal/query"
	"github.com/rickgao/market-replica/internal/reconcile"
	"github.com/rickgao/market-replica/internal/store"
	"github.com/rickgao/market-replica/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/replicator.local.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scan and exit")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting replicator",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(*configPath, *once, logger); err != nil {
		logger.Error("replicator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("replicator stopped")
}

func run(configPath string, once bool, logger *slog.Logger) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Ledger.RestURL,
		"ws_url", cfg.Ledger.WSURL,
		"store", cfg.Store.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	client := ledger.NewClient(
		cfg.Ledger.RestURL,
		cfg.Ledger.APIKey,
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithRetries(cfg.Ledger.MaxRetries, time.Second),
		ledger.WithRateLimit(cfg.Ledger.RateLimit, cfg.Ledger.RateBurst),
	)

	streamCfg := ledger.DefaultStreamConfig(cfg.Ledger.WSURL)
	streamCfg.APIKey = cfg.Ledger.APIKey
	streamCfg.PingTimeout = cfg.Ledger.PingTimeout
	stream := ledger.NewStream(streamCfg, logger.With("component", "stream"))
	defer stream.Close()

	opts := reconcile.OptionsFromConfig(cfg.Watch)
	if once {
		opts.Filtering = false
		opts.Interval = 0
	}
	if opts.Filtering {
		if err := stream.Connect(ctx); err != nil {
			st.Close()
			return fmt.Errorf("connect ledger stream: %w", err)
		}
	}

	m := metrics.New()
	session := reconcile.New(opts, ledger.NewRemote(client, stream), st,
		m.Chain(logEvent(logger)), logger.With("component", "session"))
	m.RegisterSession(session)
	m.RegisterStream(stream.IsConnected)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		td := session.Unwatch(shutdownCtx)
		if !td.OK() {
			logger.Warn("incomplete teardown",
				"timer_stopped", td.TimerStopped,
				"subscription_errors", td.SubscriptionErrors,
				"handlers_drained", td.HandlersDrained,
				"store_closed", td.StoreClosed,
				"store_err", td.StoreErr,
			)
		}
	}()

	if once {
		n, err := session.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		logger.Info("scan finished", "updated", n)
		return nil
	}

	srv := httpapi.NewServer(httpapi.Config{
		Port:        cfg.HTTP.Port,
		MetricsPath: cfg.Metrics.Path,
	}, query.New(st, logger.With("component", "query")), st, session.Status, m.Handler(), logger.With("component", "http"))
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	if err := session.Watch(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	logger.Info("replicator running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.HTTP.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// logEvent logs every session result.
func logEvent(logger *slog.Logger) event.Observer {
	return func(ev event.Event) {
		switch e := ev.(type) {
		case event.Scanned:
			logger.Info("scan pass", "updated", e.Count)
		case event.Created:
			logger.Info("market created", "market_id", e.Market.ID, "branch_id", e.Market.BranchID)
		case event.PriceChanged:
			logger.Debug("price changed", "market_id", e.Market.ID, "outcome", e.Outcome)
		case event.FeeChanged:
			logger.Debug("fees changed", "market_id", e.Market.ID)
		case event.Failed:
			attrs := []any{"source", e.Source, "error", e.Err}
			if e.Notification != nil {
				attrs = append(attrs, "market_id", e.Notification.MarketID)
			}
			logger.Warn("reconciliation error", attrs...)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
