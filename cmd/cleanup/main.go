package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	hours := flag.Float64("hours", cfg.Cleanup.OlderThan.Hours(), "delete pending orders older than this many hours")
	dryRun := flag.Bool("dry-run", false, "report what would be deleted without deleting")
	schedule := flag.String("schedule", cfg.Cleanup.Schedule, "cron expression; empty runs once and exits")
	sample := flag.Int("sample", 5, "number of order numbers to include in the report")
	flag.Parse()

	l := logger.NewLogger(cfg.LogLevel).With("service", "storefront-cleanup")

	db, err := database.New(cfg, l)
	if err != nil {
		l.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		l.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	sweeper := service.NewPendingOrderSweeper(db,
		repository.NewOrderRepository(db, l),
		repository.NewOutboxRepository(db, l),
		l)

	opts := service.SweepOptions{
		OlderThan:  time.Duration(*hours * float64(time.Hour)),
		DryRun:     *dryRun,
		SampleSize: *sample,
	}

	run := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := sweeper.Sweep(ctx, opts)
		if err != nil {
			l.Error("Cleanup failed", "error", err)
			return err
		}

		l.Info("Cleanup finished",
			"cutoff", report.Cutoff,
			"matched", report.Matched,
			"deleted", report.Deleted,
			"dryRun", report.DryRun,
			"sample", report.Sample)
		return nil
	}

	if *schedule == "" {
		if err := run(); err != nil {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(*schedule, func() { _ = run() }); err != nil {
		l.Error("Invalid cleanup schedule", "schedule", *schedule, "error", err)
		os.Exit(1)
	}

	scheduler.Start()
	l.Info("Cleanup scheduled", "schedule", *schedule, "olderThan", opts.OlderThan, "dryRun", opts.DryRun)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down scheduler...")
	<-scheduler.Stop().Done()
}
