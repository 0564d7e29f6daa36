package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ReviewInsights/internal/app"
	"ReviewInsights/internal/config"
	"ReviewInsights/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	schedule := flag.Bool("schedule", false, "run on the configured cron expression instead of once")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer application.Close()

	if *schedule {
		err = application.Schedule(ctx)
	} else {
		err = application.Run(ctx)
	}
	if err != nil {
		logger.Error("application stopped", "error", err)
		return 1
	}
	return 0
}
