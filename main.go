package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealtracker/api"
	"dealtracker/config"
	"dealtracker/logging"
	"dealtracker/notifier"
	"dealtracker/refdata"
	"dealtracker/scheduler"
	"dealtracker/scraper"
	"dealtracker/services"
	"dealtracker/storage"
)

var (
	scrapeNow    = flag.Bool("scrape", false, "Run one scrape cycle and exit")
	showDeals    = flag.Bool("deals", false, "Print the current top deals and exit")
	showStats    = flag.Bool("stats", false, "Print tracker statistics and exit")
	updateRetail = flag.Bool("update-retail", false, "Refresh retail reference prices and exit")
	dealLimit    = flag.Int("limit", 20, "Row limit for -deals")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
		logger = log.Default()
	} else {
		defer logFile.Close()
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	seeds, err := config.LoadSeeds(cfg.SeedDir, cfg)
	if err != nil {
		log.Fatalf("Failed to load seeds: %v", err)
	}
	if err := storage.Seed(ctx, store, seeds.Queries, seeds.Brands, seeds.References, seeds.Settings); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	fetcher := scraper.NewFetcher(cfg.Scraper.Timeout)
	handlers := []scraper.Handler{
		scraper.NewMarketplaceHandler(fetcher, "kijiji", "kijiji.ca", "CAD", cfg.Scraper.MaxPages, cfg.Scraper.Delay, logger),
		scraper.NewShopifyHandler(fetcher, "retail"),
	}
	aurora := scraper.NewAuroraUpdater(fetcher, store, logger)

	runnerCfg := services.DefaultRunnerConfig()
	runnerCfg.DefaultCurrency = cfg.DefaultCurrency
	runnerCfg.MaxPages = cfg.Scraper.MaxPages

	webhook := notifier.NewWebhook(store, logger)
	runner := services.NewRunner(store, handlers, webhook, logger, runnerCfg)

	switch {
	case *scrapeNow:
		stats, err := runner.RunCycle(ctx, 0)
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Printf("Scrape complete: %d found, %d new, %d price changes, %d reactivated, %d deactivated",
			stats.Found, stats.New, stats.PriceChanges, stats.Reactivated, stats.Deactivated)
		return

	case *showDeals:
		printDeals(ctx, store, runnerCfg, *dealLimit)
		return

	case *showStats:
		printStats(ctx, store)
		return

	case *updateRetail:
		updated, err := aurora.Update(ctx)
		if err != nil {
			log.Fatalf("Retail update failed: %v", err)
		}
		refs, err := store.GetRetailReferences(ctx)
		if err != nil {
			log.Fatalf("Failed to reload references: %v", err)
		}
		rescored, err := services.RescoreAll(ctx, store, refdata.NewResolver(refs, runnerCfg.Rates), runnerCfg.Scoring)
		if err != nil {
			log.Fatalf("Rescore failed: %v", err)
		}
		log.Printf("Retail update complete: %d references, %d listings rescored", updated, rescored)
		return
	}

	// Daemon mode: scheduler plus HTTP API until SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Without an explicit schedule from the environment, the seeded
	// scrape_interval_hours setting drives the cadence.
	interval := cfg.Scheduler.Interval
	if cfg.Scheduler.Cron == "" && interval == 0 {
		if hours := storage.GetSettingInt(ctx, store, "scrape_interval_hours", 0); hours > 0 {
			interval = time.Duration(hours) * time.Hour
		}
	}

	sched := scheduler.New(runner, cfg.Scheduler.Cron, interval, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	server := api.NewServer(store, runner, sched, aurora, runnerCfg, logger)
	go func() {
		if err := server.Run(cfg.Port); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Println("Connected to Postgres")
		return store, nil
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return store, nil
}

func printDeals(ctx context.Context, store storage.Store, cfg services.RunnerConfig, limit int) {
	refs, err := store.GetRetailReferences(ctx)
	if err != nil {
		log.Fatalf("Failed to load references: %v", err)
	}
	resolver := refdata.NewResolver(refs, cfg.Rates)

	deals, err := services.ComputeDeals(ctx, store, resolver, cfg.Scoring, limit)
	if err != nil {
		log.Fatalf("Failed to compute deals: %v", err)
	}

	for i, d := range deals {
		ratio := "-"
		if d.PriceToRetailRatio != nil {
			ratio = d.PriceToRetailRatio.StringFixed(2)
		}
		fmt.Printf("%2d. [%s] %s  %s %s  drop %s%%  retail ratio %s\n",
			i+1, d.Score.StringFixed(4), truncate(d.Title, 60),
			d.Currency, d.CurrentPrice.StringFixed(2), d.PriceDropPct.StringFixed(1), ratio)
		fmt.Printf("    %s\n", d.URL)
	}
}

func printStats(ctx context.Context, store storage.Store) {
	stats, err := store.GetStats(ctx)
	if err != nil {
		log.Fatalf("Failed to load stats: %v", err)
	}
	fmt.Printf("Listings:        %d (%d active)\n", stats.TotalListings, stats.ActiveListings)
	fmt.Printf("Price snapshots: %d\n", stats.TotalSnapshots)
	fmt.Printf("Scrape runs:     %d\n", stats.TotalRuns)
	fmt.Printf("With drops:      %d\n", stats.ListingsWithDrops)
	if stats.LastRun != nil {
		fmt.Printf("Last run:        #%d %s (%s)\n", stats.LastRun.ID, stats.LastRun.StartedAt.Format("2006-01-02 15:04"), stats.LastRun.Status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
