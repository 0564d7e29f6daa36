package provider

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ReviewInsights/internal/domain"
)

// ErrMalformedItem marks a provider item that cannot be normalized.
var ErrMalformedItem = errors.New("malformed review item")

// Alternate keys in lookup order; the first non-empty value wins.
var (
	textKeys      = []string{"review", "content"}
	ratingKeys    = []string{"rating", "score"}
	timestampKeys = []string{"date", "at"}
)

// Normalize maps a provider item onto the canonical review shape. Timestamps
// are rendered in loc using domain.TimestampLayout.
func Normalize(app domain.App, item Item, loc *time.Location) (domain.RawReview, error) {
	if loc == nil {
		loc = time.UTC
	}

	review := domain.RawReview{
		SourceApp: app.DisplayName,
		Platform:  app.Platform,
	}

	if v, ok := first(item, textKeys); ok {
		review.Text = toText(v)
	}

	if v, ok := first(item, ratingKeys); ok {
		rating, err := toInt(v)
		if err != nil {
			return domain.RawReview{}, fmt.Errorf("%w: rating: %v", ErrMalformedItem, err)
		}
		review.Rating = rating
	}

	v, ok := first(item, timestampKeys)
	if !ok {
		return domain.RawReview{}, fmt.Errorf("%w: no timestamp", ErrMalformedItem)
	}
	ts, err := toTime(v, loc)
	if err != nil {
		return domain.RawReview{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedItem, err)
	}
	review.Timestamp = ts.In(loc).Format(domain.TimestampLayout)

	return review, nil
}

func first(item Item, keys []string) (any, bool) {
	for _, key := range keys {
		v, ok := item[key]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case int:
		return val == 0
	case int64:
		return val == 0
	case float64:
		return val == 0
	case time.Time:
		return val.IsZero()
	}
	return false
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		return int(math.Round(val)), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(val))
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toTime(v any, loc *time.Location) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case int64:
		return time.Unix(val, 0), nil
	case int:
		return time.Unix(int64(val), 0), nil
	case float64:
		return time.Unix(int64(val), 0), nil
	case string:
		for _, layout := range []string{time.RFC3339, domain.TimestampLayout} {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(val), loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable %q", val)
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}
