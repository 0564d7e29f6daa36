// Package selection decides which fetched reviews are worth an analysis call.
package selection

import (
	"sort"

	"ReviewInsights/internal/domain"
)

// LowRatingThreshold is the highest rating still treated as a complaint.
const LowRatingThreshold = 3

// Stats summarizes one selection pass.
type Stats struct {
	Fetched  int
	Unique   int
	Low      int
	High     int
	Selected int
}

// Select deduplicates reviews by text, then fills the quota with the most
// recent low-rated reviews before falling back to the most recent high-rated
// ones. Low-rated reviews always precede high-rated reviews in the output.
func Select(reviews []domain.RawReview, quota int) ([]domain.SelectedReview, Stats) {
	stats := Stats{Fetched: len(reviews)}

	unique := dedup(reviews)
	stats.Unique = len(unique)

	var low, high []domain.RawReview
	for _, r := range unique {
		if r.Rating <= LowRatingThreshold {
			low = append(low, r)
		} else {
			high = append(high, r)
		}
	}
	stats.Low, stats.High = len(low), len(high)

	if quota <= 0 {
		return nil, stats
	}

	sortRecentFirst(low)
	sortRecentFirst(high)

	picked := make([]domain.RawReview, 0, min(quota, len(unique)))
	if len(low) >= quota {
		picked = append(picked, low[:quota]...)
	} else {
		picked = append(picked, low...)
		picked = append(picked, high[:min(quota-len(low), len(high))]...)
	}

	selected := make([]domain.SelectedReview, len(picked))
	for i, r := range picked {
		selected[i] = domain.SelectedReview{RawReview: r, Rank: i + 1}
	}
	stats.Selected = len(selected)

	return selected, stats
}

func dedup(reviews []domain.RawReview) []domain.RawReview {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]domain.RawReview, 0, len(reviews))
	for _, r := range reviews {
		if _, ok := seen[r.Text]; ok {
			continue
		}
		seen[r.Text] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Canonical timestamps sort lexically in chronological order.
func sortRecentFirst(reviews []domain.RawReview) {
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].Timestamp > reviews[j].Timestamp
	})
}
