package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
	"ReviewInsights/internal/selection"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.ReviewSource
	Analyzer    ports.Analyzer
	Sink        ports.ResultSink
	Notifier    ports.Notifier
	Apps        []domain.App
	Quota       int
	PacingDelay time.Duration
	Location    *time.Location
	Logger      *slog.Logger
}

// Pipeline implements the fetch, select, analyze and write workflow.
type Pipeline struct {
	source      ports.ReviewSource
	analyzer    ports.Analyzer
	sink        ports.ResultSink
	notifier    ports.Notifier
	apps        []domain.App
	quota       int
	pacingDelay time.Duration
	location    *time.Location
	logger      *slog.Logger
	newRunID    func() string
	now         func() time.Time
}

// Report summarizes a single run.
type Report struct {
	RunID     string
	Fetched   int
	Unique    int
	Selected  int
	Analyzed  int
	Failed    int
	Written   int
	FailedApp []string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		source:      deps.Source,
		analyzer:    deps.Analyzer,
		sink:        deps.Sink,
		notifier:    deps.Notifier,
		apps:        deps.Apps,
		quota:       deps.Quota,
		pacingDelay: deps.PacingDelay,
		location:    loc,
		logger:      deps.Logger,
		newRunID:    uuid.NewString,
		now:         time.Now,
	}
}

// Run executes one pass. Per-app, per-review and sink failures are logged and
// absorbed; only context cancellation is returned as an error.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: p.newRunID()}
	log := p.logger
	if log != nil {
		log = log.With("run_id", report.RunID)
	}

	if p.source == nil {
		return report, nil
	}

	reviews, outcomes := p.source.Fetch(ctx, p.apps)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			report.FailedApp = append(report.FailedApp, fmt.Sprintf("%s (%s)", outcome.App.DisplayName, outcome.App.Platform))
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	selected, stats := selection.Select(reviews, p.quota)
	report.Fetched, report.Unique, report.Selected = stats.Fetched, stats.Unique, stats.Selected
	logInfo(log, "reviews selected",
		"fetched", stats.Fetched, "unique", stats.Unique, "low", stats.Low, "high", stats.High, "selected", stats.Selected, "quota", p.quota)

	if len(selected) == 0 {
		logInfo(log, "no reviews to analyze")
		return report, nil
	}

	rows, err := p.analyze(ctx, log, selected, &report)
	if err != nil {
		return report, err
	}

	if len(rows) == 0 {
		logInfo(log, "no analysis succeeded, nothing to write")
		return report, nil
	}

	if p.sink != nil {
		batch := domain.ResultBatch{RunID: report.RunID, Header: domain.OutputHeader}
		for _, row := range rows {
			batch.Rows = append(batch.Rows, row.Values())
		}
		if err := p.sink.Write(ctx, batch); err != nil {
			logError(log, "failed to write results", "rows", len(rows), "error", err)
		} else {
			report.Written = len(rows)
			logInfo(log, "results written", "rows", len(rows))
		}
	}

	if p.notifier != nil {
		if err := p.notifier.PublishDigest(ctx, buildDigestMessage(report, rows)); err != nil {
			logError(log, "failed to publish digest", "error", err)
		}
	}

	return report, nil
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, selected []domain.SelectedReview, report *Report) ([]domain.OutputRow, error) {
	rows := make([]domain.OutputRow, 0, len(selected))
	for i, review := range selected {
		if i > 0 {
			if err := sleep(ctx, p.pacingDelay); err != nil {
				return rows, err
			}
		}

		logInfo(log, "analyzing review",
			"rank", review.Rank, "of", len(selected), "app", review.SourceApp, "preview", preview(review.Text))

		outcome := p.analyzer.Analyze(ctx, review.Text)
		if !outcome.Succeeded() {
			report.Failed++
			logWarn(log, "analysis failed, skipping review", "rank", review.Rank, "app", review.SourceApp, "attempts", outcome.Attempts, "error", outcome.Err)
			if err := ctx.Err(); err != nil {
				return rows, err
			}
			continue
		}

		report.Analyzed++
		rows = append(rows, domain.OutputRow{
			Review:      review,
			Analysis:    *outcome.Result,
			ProcessedAt: p.now().In(p.location),
		})
	}
	return rows, nil
}

func buildDigestMessage(report Report, rows []domain.OutputRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review insights run %s\n", report.RunID)
	fmt.Fprintf(&b, "Fetched %d (%d unique), analyzed %d of %d, written %d\n",
		report.Fetched, report.Unique, report.Analyzed, report.Selected, report.Written)

	categories := map[string]int{}
	var (
		scoreSum float64
		scored   int
	)
	for _, row := range rows {
		if row.Analysis.Category != nil {
			categories[*row.Analysis.Category]++
		}
		if row.Analysis.EmotionScore != nil {
			scoreSum += *row.Analysis.EmotionScore
			scored++
		}
	}
	if scored > 0 {
		fmt.Fprintf(&b, "Average emotion score: %.2f\n", scoreSum/float64(scored))
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if categories[names[i]] != categories[names[j]] {
			return categories[names[i]] > categories[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %d\n", name, categories[name])
	}

	if len(report.FailedApp) > 0 {
		fmt.Fprintf(&b, "Fetch failed: %s\n", strings.Join(report.FailedApp, ", "))
	}

	return b.String()
}

func preview(text string) string {
	const limit = 40
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logInfo(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Info(msg, args...)
	}
}

func logWarn(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Warn(msg, args...)
	}
}

func logError(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Error(msg, args...)
	}
}
