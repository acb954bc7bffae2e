// streamtail connects to the ledger notification stream and prints every
// notification to the console.
// Usage: go run ./cmd/streamtail --config configs/replicator.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rickgao/market-replica/internal/config"
	"github.com/rickgao/market-replica/internal/ledger"
)

func main() {
	configPath := flag.String("config", "configs/replicator.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full notification JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamCfg := ledger.DefaultStreamConfig(cfg.Ledger.WSURL)
	streamCfg.APIKey = cfg.Ledger.APIKey
	stream := ledger.NewStream(streamCfg, logger)
	defer stream.Close()

	logger.Info("connecting", "url", cfg.Ledger.WSURL)
	if err := stream.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	var received atomic.Int64
	var subs []ledger.Subscription
	for _, kind := range ledger.AllKinds() {
		sub, err := stream.Subscribe(ctx, kind, func(n ledger.Notification) {
			received.Add(1)
			printNotification(n, *verbose)
		})
		if err != nil {
			logger.Error("failed to subscribe", "kind", kind, "error", err)
			os.Exit(1)
		}
		subs = append(subs, sub)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"connected", stream.IsConnected(),
					"received", received.Load(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	for _, sub := range subs {
		if err := stream.Unsubscribe(shutdownCtx, sub); err != nil {
			logger.Warn("unsubscribe failed", "kind", sub.Kind, "error", err)
		}
	}
	logger.Info("shutdown complete")
}

func printNotification(n ledger.Notification, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(n, "", "  ")
		fmt.Printf("[%s] %s\n", n.Kind, data)
		return
	}

	switch n.Kind {
	case ledger.KindCreation:
		fmt.Printf("[CREATED] market=%s branch=%s\n", n.MarketID, n.BranchID)
	case ledger.KindPrice:
		fmt.Printf("[PRICE] market=%s outcome=%d type=%s price=%s shares=%s block=%d\n",
			n.MarketID, n.Outcome, n.Type, n.Price, n.Shares, n.BlockNumber)
	case ledger.KindFee:
		fmt.Printf("[FEE] market=%s maker=%s taker=%s volume=%s\n",
			n.MarketID, deref(n.MakerFee), deref(n.TakerFee), deref(n.Volume))
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
