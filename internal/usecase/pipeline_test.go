package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/infrastructure/source"
	"ReviewInsights/internal/logging"
	"ReviewInsights/internal/provider"
)

type fakeProvider struct {
	platform domain.Platform
	items    map[string][]provider.Item
	fail     map[string]error
}

func (f *fakeProvider) Platform() domain.Platform { return f.platform }

func (f *fakeProvider) Fetch(_ context.Context, req provider.Request) ([]provider.Item, error) {
	if err := f.fail[req.AppID]; err != nil {
		return nil, err
	}
	return f.items[req.AppID], nil
}

type fakeAnalyzer struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) domain.AnalysisOutcome {
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return domain.AnalysisOutcome{Attempts: 2, Err: errors.New("upstream down")}
	}
	score := 0.5
	category := "category-" + text[:1]
	summary := "summary of " + text
	return domain.AnalysisOutcome{
		Attempts: 1,
		Result:   &domain.AnalysisResult{EmotionScore: &score, Category: &category, Summary: &summary},
	}
}

type fakeSink struct {
	batches []domain.ResultBatch
	err     error
}

func (f *fakeSink) Write(_ context.Context, batch domain.ResultBatch) error {
	f.batches = append(f.batches, batch)
	return f.err
}

type fakeNotifier struct {
	digests []string
}

func (f *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	f.digests = append(f.digests, digest)
	return nil
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 12, 0, 0, 0, time.UTC)
}

func androidItem(text string, score int, at time.Time) provider.Item {
	return provider.Item{"content": text, "score": float64(score), "at": at}
}

func iosItem(text string, rating int, date time.Time) provider.Item {
	return provider.Item{"review": text, "rating": fmt.Sprint(rating), "date": date}
}

var scenarioApps = []domain.App{
	{DisplayName: "Alpha", Platform: domain.PlatformAndroid, PlatformAppID: "alpha"},
	{DisplayName: "Beta", Platform: domain.PlatformIOS, PlatformAppID: "beta"},
	{DisplayName: "Gamma", Platform: domain.PlatformAndroid, PlatformAppID: "gamma"},
}

// scenarioProviders yields 10, 15 and 20 reviews. Gamma's first five repeat
// Alpha's texts with newer timestamps; eight unique reviews are low-rated.
func scenarioProviders() (*fakeProvider, *fakeProvider) {
	android := &fakeProvider{platform: domain.PlatformAndroid, items: map[string][]provider.Item{}, fail: map[string]error{}}
	ios := &fakeProvider{platform: domain.PlatformIOS, items: map[string][]provider.Item{}, fail: map[string]error{}}

	for i := 0; i < 10; i++ {
		if i < 4 {
			android.items["alpha"] = append(android.items["alpha"], androidItem(fmt.Sprintf("a-%d", i), 2, day(time.January, i+1)))
			continue
		}
		android.items["alpha"] = append(android.items["alpha"], androidItem(fmt.Sprintf("a-%d", i), 5, day(time.February, i)))
	}
	for i := 0; i < 15; i++ {
		if i < 4 {
			ios.items["beta"] = append(ios.items["beta"], iosItem(fmt.Sprintf("b-%d", i), 1, day(time.January, i+5)))
			continue
		}
		ios.items["beta"] = append(ios.items["beta"], iosItem(fmt.Sprintf("b-%d", i), 4, day(time.March, i)))
	}
	for i := 0; i < 20; i++ {
		if i < 5 {
			android.items["gamma"] = append(android.items["gamma"], androidItem(fmt.Sprintf("a-%d", i), 1, day(time.May, i+1)))
			continue
		}
		android.items["gamma"] = append(android.items["gamma"], androidItem(fmt.Sprintf("c-%d", i), 5, day(time.April, i)))
	}

	return android, ios
}

func newScenarioPipeline(android, ios *fakeProvider, analyzer *fakeAnalyzer, sink *fakeSink, quota int) *Pipeline {
	registry := provider.NewRegistry()
	registry.Register(android)
	registry.Register(ios)

	adapter := source.NewAdapter(registry, config.SourceConfig{ReviewsPerApp: 100}, time.UTC, nil)
	p := NewPipeline(PipelineDeps{
		Source:   adapter,
		Analyzer: analyzer,
		Sink:     sink,
		Apps:     scenarioApps,
		Quota:    quota,
		Location: time.UTC,
	})
	p.newRunID = func() string { return "run-test" }
	p.now = func() time.Time { return time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC) }
	return p
}

func textColumn(rows [][]any) []string {
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row[4].(string)
	}
	return texts
}

func TestRunEndToEndScenario(t *testing.T) {
	t.Parallel()

	android, ios := scenarioProviders()
	analyzer := &fakeAnalyzer{}
	sink := &fakeSink{}

	report, err := newScenarioPipeline(android, ios, analyzer, sink, 12).Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if report.Fetched != 45 || report.Unique != 40 || report.Selected != 12 || report.Analyzed != 12 || report.Written != 12 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(analyzer.calls) != 12 {
		t.Fatalf("expected 12 analysis calls, got %d", len(analyzer.calls))
	}
	if len(sink.batches) != 1 {
		t.Fatalf("expected a single sink write, got %d", len(sink.batches))
	}

	batch := sink.batches[0]
	if batch.RunID != "run-test" {
		t.Fatalf("unexpected run id %s", batch.RunID)
	}
	if strings.Join(batch.Header, ",") != strings.Join(domain.OutputHeader, ",") {
		t.Fatalf("unexpected header %v", batch.Header)
	}

	want := []string{
		"b-3", "b-2", "b-1", "b-0", "a-3", "a-2", "a-1", "a-0",
		"c-19", "c-18", "c-17", "c-16",
	}
	if got := textColumn(batch.Rows); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order:\n got %v\nwant %v", got, want)
	}

	first := batch.Rows[0]
	if first[0] != "Beta" || first[1] != "iOS" || first[2] != "2025-01-08 12:00:00" || first[3] != 1 {
		t.Fatalf("unexpected first row %v", first)
	}
	if first[5] != "0.5" || first[6] != "category-b" || first[8] != "2025-06-01 08:00:00" {
		t.Fatalf("unexpected analysis cells %v", first)
	}
}

func TestRunDropsFailedAnalyses(t *testing.T) {
	t.Parallel()

	android, ios := scenarioProviders()
	analyzer := &fakeAnalyzer{fail: map[string]bool{"a-3": true}}
	sink := &fakeSink{}

	report, err := newScenarioPipeline(android, ios, analyzer, sink, 12).Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Failed != 1 || report.Analyzed != 11 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, text := range textColumn(sink.batches[0].Rows) {
		if text == "a-3" {
			t.Fatalf("failed review must not produce a row")
		}
	}
}

func TestRunLogsSelectorRank(t *testing.T) {
	t.Parallel()

	android, ios := scenarioProviders()
	analyzer := &fakeAnalyzer{fail: map[string]bool{"a-3": true}}
	sink := &fakeSink{}

	var buf bytes.Buffer
	p := newScenarioPipeline(android, ios, analyzer, sink, 12)
	p.logger = logging.NewWithWriter(&buf, "info")

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	var analyzing, failed []string
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.Contains(line, `msg="analyzing review"`):
			analyzing = append(analyzing, line)
		case strings.Contains(line, `msg="analysis failed, skipping review"`):
			failed = append(failed, line)
		}
	}

	if len(analyzing) != 12 {
		t.Fatalf("expected 12 analyzing lines, got %d", len(analyzing))
	}
	if !strings.Contains(analyzing[0], "rank=1 of=12") || !strings.Contains(analyzing[11], "rank=12 of=12") {
		t.Fatalf("unexpected rank attributes:\n%s\n%s", analyzing[0], analyzing[11])
	}
	if len(failed) != 1 || !strings.Contains(failed[0], "rank=5") {
		t.Fatalf("expected failed review logged with rank=5, got %v", failed)
	}
	for _, name := range domain.OutputHeader {
		if name == "rank" {
			t.Fatalf("rank must not be an output column")
		}
	}
}

func TestRunSurvivesFailingApp(t *testing.T) {
	t.Parallel()

	android, ios := scenarioProviders()
	ios.fail["beta"] = errors.New("feed unavailable")
	analyzer := &fakeAnalyzer{}
	sink := &fakeSink{}

	report, err := newScenarioPipeline(android, ios, analyzer, sink, 12).Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Fetched != 30 || len(report.FailedApp) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, text := range textColumn(sink.batches[0].Rows) {
		if strings.HasPrefix(text, "b-") {
			t.Fatalf("failed app contributed review %s", text)
		}
	}
}

func TestRunWithoutReviewsSkipsAnalysisAndSink(t *testing.T) {
	t.Parallel()

	android := &fakeProvider{platform: domain.PlatformAndroid, fail: map[string]error{"alpha": errors.New("boom")}}
	ios := &fakeProvider{platform: domain.PlatformIOS}
	analyzer := &fakeAnalyzer{}
	sink := &fakeSink{}

	report, err := newScenarioPipeline(android, ios, analyzer, sink, 12).Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Selected != 0 || len(analyzer.calls) != 0 || len(sink.batches) != 0 {
		t.Fatalf("expected no work, got report %+v calls %d writes %d", report, len(analyzer.calls), len(sink.batches))
	}
}

func TestRunAbsorbsSinkFailure(t *testing.T) {
	t.Parallel()

	android, ios := scenarioProviders()
	sink := &fakeSink{err: errors.New("quota exceeded")}
	notifier := &fakeNotifier{}

	p := newScenarioPipeline(android, ios, &fakeAnalyzer{}, sink, 3)
	p.notifier = notifier

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("sink failure must not abort the run: %v", err)
	}
	if report.Written != 0 {
		t.Fatalf("expected nothing written, got %d", report.Written)
	}
	if len(notifier.digests) != 1 || !strings.Contains(notifier.digests[0], "analyzed 3 of 3, written 0") {
		t.Fatalf("unexpected digests %v", notifier.digests)
	}
}

func TestBuildDigestMessage(t *testing.T) {
	t.Parallel()

	low, high := -0.5, 0.5
	crash, ux := "crash", "ux"
	rows := []domain.OutputRow{
		{Analysis: domain.AnalysisResult{EmotionScore: &low, Category: &crash}},
		{Analysis: domain.AnalysisResult{EmotionScore: &high, Category: &crash}},
		{Analysis: domain.AnalysisResult{Category: &ux}},
	}

	msg := buildDigestMessage(Report{RunID: "r1", Fetched: 5, Unique: 4, Selected: 3, Analyzed: 3, Written: 3, FailedApp: []string{"XQ (iOS)"}}, rows)
	for _, want := range []string{"run r1", "Average emotion score: 0.00", "- crash: 2\n- ux: 1", "Fetch failed: XQ (iOS)"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("digest missing %q:\n%s", want, msg)
		}
	}
}
