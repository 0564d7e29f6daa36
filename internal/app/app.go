package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/infrastructure/appstore"
	"ReviewInsights/internal/infrastructure/dify"
	"ReviewInsights/internal/infrastructure/playstore"
	"ReviewInsights/internal/infrastructure/scheduler"
	"ReviewInsights/internal/infrastructure/sheets"
	"ReviewInsights/internal/infrastructure/source"
	"ReviewInsights/internal/infrastructure/storage"
	"ReviewInsights/internal/infrastructure/telegram"
	"ReviewInsights/internal/logging"
	"ReviewInsights/internal/ports"
	"ReviewInsights/internal/provider"
	"ReviewInsights/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	logger   *slog.Logger
	closers  []io.Closer
}

// New validates configuration and connects every collaborator. Any error is
// a fatal startup failure.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	application := &Application{cfg: cfg, logger: baseLogger}

	sink, err := application.connectSink(ctx, baseLogger.With("component", "sink"))
	if err != nil {
		return nil, fmt.Errorf("connect sink: %w", err)
	}

	storeClient := &http.Client{Timeout: cfg.Source.Timeout}
	registry := provider.NewRegistry()
	registry.Register(playstore.NewProvider(cfg.Source.PlayStoreURL, storeClient))
	registry.Register(appstore.NewProvider(cfg.Source.AppStoreURL, storeClient))

	src := source.NewAdapter(registry, cfg.Source, cfg.Scheduler.Location(), baseLogger.With("component", "source"))

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Enabled() {
		notifier = tg
	}

	application.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:      src,
		Analyzer:    dify.NewClient(cfg.Analysis, baseLogger.With("component", "analysis")),
		Sink:        sink,
		Notifier:    notifier,
		Apps:        cfg.DomainApps(),
		Quota:       cfg.Selection.Quota,
		PacingDelay: cfg.Analysis.PacingDelay,
		Location:    cfg.Scheduler.Location(),
		Logger:      baseLogger.With("component", "pipeline"),
	})
	return application, nil
}

func (a *Application) connectSink(ctx context.Context, logger *slog.Logger) (ports.ResultSink, error) {
	switch a.cfg.Sink.Kind {
	case config.SinkSQLite:
		archive, err := storage.OpenArchive(ctx, a.cfg.Sink.SQLite.Path, a.cfg.Sink.Mode, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, archive)
		return archive, nil
	default:
		return sheets.Connect(ctx, a.cfg.Sink, logger)
	}
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) error {
	report, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("workflow finished",
		"run_id", report.RunID,
		"fetched", report.Fetched,
		"selected", report.Selected,
		"analyzed", report.Analyzed,
		"failed", report.Failed,
		"written", report.Written,
	)
	return nil
}

// Schedule runs the pipeline on the configured cron expression until ctx is done.
func (a *Application) Schedule(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if next, err := driver.Next(time.Now()); err == nil {
		a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "next_run", next)
	}

	<-ctx.Done()
	return sched.Stop(context.Background())
}

// Close releases sink resources.
func (a *Application) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
