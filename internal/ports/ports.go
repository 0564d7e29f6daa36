package ports

import (
	"context"
	"time"

	"ReviewInsights/internal/domain"
)

// ReviewSource pulls the newest reviews of the configured apps. Per-app
// failures are reported in the outcomes, never as an error.
type ReviewSource interface {
	Fetch(ctx context.Context, apps []domain.App) ([]domain.RawReview, []domain.FetchOutcome)
}

// Analyzer sends a single review text to the analysis workflow.
type Analyzer interface {
	Analyze(ctx context.Context, text string) domain.AnalysisOutcome
}

// ResultSink receives the header row followed by result rows in order.
type ResultSink interface {
	Write(ctx context.Context, batch domain.ResultBatch) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
