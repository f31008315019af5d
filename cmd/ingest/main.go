package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/andrewdyar/switchyard-sub001/internal/app"
	"github.com/andrewdyar/switchyard-sub001/internal/ingest"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		return ingest.ExitConfig
	}
	defer log.Sync()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		return ingest.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, log, cfg)
	if err != nil {
		if errors.Is(err, app.ErrConfig) {
			log.Error("Invalid configuration", "error", err)
			return ingest.ExitConfig
		}
		if ctx.Err() != nil {
			log.Warn("Cancelled during startup", "error", err)
			return ingest.ExitCancelled
		}
		log.Error("Startup failed", "error", err)
		return ingest.ExitExhausted
	}
	defer a.Close()

	summary, err := a.Run(ctx)
	if summary == nil {
		log.Error("Run failed", "error", err)
		return ingest.ExitExhausted
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Run ended with error", "error", err)
	}
	for _, name := range summary.ZeroRetailers() {
		log.Warn("Retailer wrote no records", "retailer", name)
	}
	log.Info("Run summary",
		"exit_code", summary.ExitCode(),
		"cancelled", summary.Cancelled,
		"exhausted", summary.Exhausted,
		"dry_run", summary.DryRun,
		"totals", summary.Totals,
		"units", len(summary.Units),
	)
	return summary.ExitCode()
}
