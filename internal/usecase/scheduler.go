package usecase

import (
	"context"
	"log/slog"
	"time"

	"ReviewInsights/internal/ports"
)

// Scheduler wires the cron driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		logInfo(s.logger, "scheduled run triggered", "at", trigger.Format(time.RFC3339))
		report, err := s.pipeline.Run(ctx)
		if err != nil {
			logError(s.logger, "scheduled run aborted", "run_id", report.RunID, "error", err)
			return
		}
		logInfo(s.logger, "scheduled run finished", "run_id", report.RunID, "written", report.Written)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
