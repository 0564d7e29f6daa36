// Package analysis turns loosely formatted workflow responses into
// structured review analyses.
//
// Decoding is lenient, in this order:
//  1. parse the body as a JSON object;
//  2. otherwise parse the span from the first '{' to the last '}';
//  3. if the object carries an outputs object, its analysis_result must be
//     an object or a string re-parsed with steps 1-2; anything else fails.
//     Bodies without outputs are read as the result itself.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ReviewInsights/internal/domain"
)

// ErrNoJSONObject is returned when a body holds no decodable JSON object.
var ErrNoJSONObject = errors.New("no JSON object in response")

const (
	outputsKey = "outputs"
	resultKey  = "analysis_result"
)

// LenientDecode extracts a JSON object from body, tolerating leading and
// trailing non-JSON text.
func LenientDecode(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj != nil {
		return obj, nil
	}

	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, ErrNoJSONObject
	}

	obj = nil
	if err := json.Unmarshal(trimmed[start:end+1], &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}
	if obj == nil {
		return nil, ErrNoJSONObject
	}
	return obj, nil
}

// ResolveResult picks the analysis object out of a decoded response and maps
// its fields. Missing fields stay nil, but a workflow envelope whose
// analysis_result is absent, null or not an object is an error.
func ResolveResult(obj map[string]any) (domain.AnalysisResult, error) {
	target := obj
	if outputs, ok := obj[outputsKey].(map[string]any); ok {
		switch nested := outputs[resultKey].(type) {
		case map[string]any:
			target = nested
		case string:
			decoded, err := LenientDecode([]byte(nested))
			if err != nil {
				return domain.AnalysisResult{}, fmt.Errorf("decode %s.%s: %w", outputsKey, resultKey, err)
			}
			target = decoded
		case nil:
			return domain.AnalysisResult{}, fmt.Errorf("%s.%s missing or null: %w", outputsKey, resultKey, ErrNoJSONObject)
		default:
			return domain.AnalysisResult{}, fmt.Errorf("%s.%s is %T: %w", outputsKey, resultKey, nested, ErrNoJSONObject)
		}
	}

	return domain.AnalysisResult{
		EmotionScore: number(target["emotion_score"]),
		Category:     text(target["category"]),
		Summary:      text(target["summary"]),
	}, nil
}

// Decode runs LenientDecode followed by ResolveResult.
func Decode(body []byte) (domain.AnalysisResult, error) {
	obj, err := LenientDecode(body)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return ResolveResult(obj)
}

func number(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func text(v any) *string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return &val
	default:
		s := fmt.Sprint(val)
		return &s
	}
}
