package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotrader/internal/api"
	"autotrader/internal/broadcast"
	"autotrader/internal/config"
	"autotrader/internal/database"
	"autotrader/internal/executor"
	"autotrader/internal/logger"
	"autotrader/internal/marketdata"
	"autotrader/internal/trader"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Market data: feed client, snapshot store, poller
	feedClient := marketdata.NewRestClient(&cfg.Feed, log)
	snapshot := marketdata.NewSnapshotStore(log, db)
	poller := marketdata.NewPoller(feedClient, snapshot,
		time.Duration(cfg.Feed.PollInterval)*time.Second, log)

	// Ledger writer and broadcast layer
	hub := broadcast.NewHub(log, 64)
	exec := executor.New(db, log, hub)

	// Strategy execution engine
	scheduler := trader.NewScheduler(log, db, snapshot, exec,
		time.Duration(cfg.Trading.CycleInterval)*time.Second)

	server := api.NewServer(log, db, snapshot, exec, scheduler, hub, cfg.Server.Port)

	// Root context cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.StartActive(); err != nil {
		log.Fatal("Failed to start active bots", zap.Error(err))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return poller.Run(groupCtx) })
	group.Go(func() error { return server.Run(groupCtx) })

	err = group.Wait()
	scheduler.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Component failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Bot has been shut down.")
}
