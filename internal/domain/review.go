package domain

import (
	"strconv"
	"time"
)

// TimestampLayout is the canonical review timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// Platform names the store a review was scraped from.
type Platform string

const (
	PlatformAndroid Platform = "Android"
	PlatformIOS     Platform = "iOS"
)

// App describes a single store listing to scrape.
type App struct {
	DisplayName   string
	Platform      Platform
	PlatformAppID string
}

// RawReview is a normalized review as produced by the source adapter.
type RawReview struct {
	SourceApp string
	Platform  Platform
	Text      string
	Rating    int
	Timestamp string
}

// SelectedReview is a review chosen for analysis. Rank is its 1-based
// position in the selector output; it tags log lines during a run and is not
// part of OutputHeader.
type SelectedReview struct {
	RawReview
	Rank int
}

// AnalysisResult holds the structured fields returned by the analysis workflow.
// Missing fields stay nil.
type AnalysisResult struct {
	EmotionScore *float64
	Category     *string
	Summary      *string
}

// AnalysisOutcome is the terminal state of one review analysis.
type AnalysisOutcome struct {
	Result   *AnalysisResult
	Attempts int
	Err      error
}

// Succeeded reports whether the analysis produced a result.
func (o AnalysisOutcome) Succeeded() bool {
	return o.Result != nil
}

// FetchOutcome reports what a single app contributed to a run.
type FetchOutcome struct {
	App     App
	Reviews []RawReview
	Err     error
}

// OutputHeader lists the OutputRow field names in sink column order.
var OutputHeader = []string{
	"app_name",
	"platform",
	"review_date",
	"rating",
	"review_text",
	"emotion_score",
	"category",
	"summary",
	"processed_at",
}

// OutputRow joins a selected review with its analysis.
type OutputRow struct {
	Review      SelectedReview
	Analysis    AnalysisResult
	ProcessedAt time.Time
}

// Values renders the row in OutputHeader order. Absent analysis fields become
// empty cells.
func (r OutputRow) Values() []any {
	return []any{
		r.Review.SourceApp,
		string(r.Review.Platform),
		r.Review.Timestamp,
		r.Review.Rating,
		r.Review.Text,
		floatCell(r.Analysis.EmotionScore),
		stringCell(r.Analysis.Category),
		stringCell(r.Analysis.Summary),
		r.ProcessedAt.Format(TimestampLayout),
	}
}

func floatCell(v *float64) any {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func stringCell(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}

// ResultBatch is what a run hands to the result sink: the header row followed
// by data rows in selector order.
type ResultBatch struct {
	RunID  string
	Header []string
	Rows   [][]any
}
