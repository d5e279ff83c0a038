package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/arvx/poeflip/configs"
	"github.com/arvx/poeflip/internal/dispatch"
	"github.com/arvx/poeflip/internal/faulttolerance"
	"github.com/arvx/poeflip/internal/gameio"
	"github.com/arvx/poeflip/internal/listing"
	"github.com/arvx/poeflip/internal/pipeline"
	"github.com/arvx/poeflip/internal/prices"
	"github.com/arvx/poeflip/internal/session"
	"github.com/arvx/poeflip/internal/storage"
	"github.com/arvx/poeflip/internal/trader"
)

func main() {
	var mode string
	flag.StringVar(&mode, "mode", "", "Run mode: trader, seller, buyer, bot (required)")
	flag.Parse()

	switch mode {
	case "trader", "seller", "buyer", "bot":
	default:
		fmt.Fprintf(os.Stderr, "Error: -mode flag is required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s -mode <name>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAvailable modes:\n")
		fmt.Fprintf(os.Stderr, "  - trader  poll listings and queue whispers\n")
		fmt.Fprintf(os.Stderr, "  - seller  answer buy whispers and hand items over\n")
		fmt.Fprintf(os.Stderr, "  - buyer   join sellers and confirm purchases\n")
		fmt.Fprintf(os.Stderr, "  - bot     all of the above\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Starting flipper", "mode", mode)

	cfg := configs.AppLoad()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	ignored, err := store.SeedIgnoredUsers(cfg.IgnoredUsersFile)
	if err != nil {
		logger.Error("Failed to seed ignored users", "error", err)
		os.Exit(1)
	}

	ledger := storage.NewLedger(cfg.TradeSummaryPath, logger)

	thresholds, err := configs.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		logger.Error("Failed to load vision thresholds", "error", err)
		os.Exit(1)
	}

	io := gameio.NewClient(cfg.GameIOURL, logger)
	defer io.Close()
	collabs := io.Collabs()
	screen := session.NewScreen(collabs, thresholds, logger)

	// Shared on/off switch between the trade machines and the
	// whisper pipeline.
	enabled := &atomic.Bool{}
	enabled.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, run func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				logger.Error("Worker stopped", "worker", name, "error", err)
				cancel()
			}
		}()
	}

	if mode == "trader" || mode == "bot" {
		proxies, err := listing.LoadProxies(cfg.ProxyFile)
		if err != nil {
			logger.Error("Failed to load proxies", "error", err)
			os.Exit(1)
		}
		client := listing.NewClient(cfg.TradeAPIURL, cfg.League, proxies, logger)
		pipe := pipeline.New(ignored, cfg.MaxBulkPrice, cfg.MaxStackSize, logger)
		queue := dispatch.NewQueue()

		var hints <-chan struct{}
		if cfg.LiveSearchWSURL != "" {
			live := listing.NewLiveSearch(cfg.LiveSearchWSURL, logger)
			hints = live.Hints()
			start("livesearch", live.Run)
		}

		t := trader.New(cfg, client, pipe, store, ledger, queue, enabled, hints, logger)
		worker := dispatch.NewWorker(queue, enabled, screen, store, logger)
		start("trader", t.Run)
		start("dispatch", worker.Run)
	}

	if mode == "seller" || mode == "bot" {
		retryLog := logrus.New()
		retryer := faulttolerance.NewRetryer(faulttolerance.DefaultRetryConfig("prices"), retryLog)
		watcher := prices.NewWatcher(cfg.PriceAPIURL, cfg.League, retryer, logger)
		hideout := session.NewHideoutWatcher(screen, collabs.Events, logger)
		seller := session.NewSeller(screen, collabs.Events, ledger, hideout, watcher, cfg.MainLoopDelay, logger)
		start("prices", watcher.Run)
		start("hideout", hideout.Run)
		start("seller", seller.Run)
	}

	if mode == "buyer" || mode == "bot" {
		buyer := session.NewBuyer(cfg, screen, collabs.Events, store, ledger, enabled, logger)
		start("buyer", buyer.Run)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
	logger.Info("Stopped")
}
