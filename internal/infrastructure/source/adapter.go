package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
	"ReviewInsights/internal/provider"
)

const defaultReviewsPerApp = 100

// Adapter implements ReviewSource via registered store providers.
type Adapter struct {
	registry *provider.Registry
	cfg      config.SourceConfig
	location *time.Location
	logger   *slog.Logger
}

var _ ports.ReviewSource = (*Adapter)(nil)

// NewAdapter wires the provider registry with source settings. Timestamps are
// rendered in loc.
func NewAdapter(reg *provider.Registry, cfg config.SourceConfig, loc *time.Location, log *slog.Logger) *Adapter {
	if cfg.ReviewsPerApp <= 0 {
		cfg.ReviewsPerApp = defaultReviewsPerApp
	}
	return &Adapter{
		registry: reg,
		cfg:      cfg,
		location: loc,
		logger:   log,
	}
}

// Fetch collects reviews app by app. A failing app is logged and skipped.
func (a *Adapter) Fetch(ctx context.Context, apps []domain.App) ([]domain.RawReview, []domain.FetchOutcome) {
	a.debug("fetch reviews", "apps", len(apps), "per_app", a.cfg.ReviewsPerApp)

	var (
		aggregated []domain.RawReview
		outcomes   = make([]domain.FetchOutcome, 0, len(apps))
	)
	for _, app := range apps {
		outcome := a.fetchApp(ctx, app)
		outcomes = append(outcomes, outcome)

		if outcome.Err != nil {
			a.warn("could not fetch reviews", "app", app.DisplayName, "platform", app.Platform, "error", outcome.Err)
			continue
		}
		a.debug("app produced reviews", "app", app.DisplayName, "platform", app.Platform, "count", len(outcome.Reviews))
		aggregated = append(aggregated, outcome.Reviews...)
	}

	a.debug("source done", "total_reviews", len(aggregated))
	return aggregated, outcomes
}

func (a *Adapter) fetchApp(ctx context.Context, app domain.App) domain.FetchOutcome {
	outcome := domain.FetchOutcome{App: app}

	if a.registry == nil {
		outcome.Err = fmt.Errorf("provider registry is not configured")
		return outcome
	}

	strategy, err := a.registry.Resolve(app.Platform)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	items, err := strategy.Fetch(ctx, provider.Request{
		AppID:    app.PlatformAppID,
		Country:  a.cfg.Country,
		Language: a.cfg.Language,
		Count:    a.cfg.ReviewsPerApp,
	})
	if err != nil {
		outcome.Err = fmt.Errorf("fetch %s: %w", app.PlatformAppID, err)
		return outcome
	}

	if len(items) > a.cfg.ReviewsPerApp {
		items = items[:a.cfg.ReviewsPerApp]
	}

	reviews := make([]domain.RawReview, 0, len(items))
	for i, item := range items {
		review, err := provider.Normalize(app, item, a.location)
		if err != nil {
			outcome.Err = fmt.Errorf("item %d: %w", i, err)
			return outcome
		}
		reviews = append(reviews, review)
	}

	outcome.Reviews = reviews
	return outcome
}

func (a *Adapter) debug(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}

func (a *Adapter) warn(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
