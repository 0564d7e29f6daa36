// Package playstore fetches Google Play reviews through the store's
// batchexecute RPC endpoint.
package playstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/provider"
)

const (
	defaultBaseURL = "https://play.google.com"
	rpcPath        = "/_/PlayStoreUi/data/batchexecute"
	rpcID          = "UsvDTd"
	sortNewest     = 2
	maxPerRequest  = 199
	responseGuard  = ")]}'"
)

// Provider implements provider.Provider for Android apps.
type Provider struct {
	baseURL string
	client  *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider wires an HTTP client; baseURL defaults to the public store.
func NewProvider(baseURL string, client *http.Client) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Platform identifies the strategy inside the registry.
func (p *Provider) Platform() domain.Platform {
	return domain.PlatformAndroid
}

// Fetch returns up to req.Count newest reviews in store order. Items carry the
// keys content, score, at, userName and reviewId.
func (p *Provider) Fetch(ctx context.Context, req provider.Request) ([]provider.Item, error) {
	if req.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}

	var (
		items []provider.Item
		token string
	)
	for len(items) < req.Count {
		batch := min(req.Count-len(items), maxPerRequest)
		page, next, err := p.fetchPage(ctx, req, batch, token)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if next == "" || len(page) == 0 {
			break
		}
		token = next
	}

	if len(items) > req.Count {
		items = items[:req.Count]
	}
	return items, nil
}

func (p *Provider) fetchPage(ctx context.Context, req provider.Request, count int, token string) ([]provider.Item, string, error) {
	endpoint, err := buildRPCURL(p.baseURL, req.Language, req.Country)
	if err != nil {
		return nil, "", err
	}

	form := url.Values{}
	form.Set("f.req", buildRequestPayload(req.AppID, count, token))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("request reviews: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("play store returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	return parseResponse(body)
}

func buildRPCURL(base, language, country string) (string, error) {
	parsed, err := url.Parse(base + rpcPath)
	if err != nil {
		return "", fmt.Errorf("invalid play store url %s: %w", base, err)
	}

	query := parsed.Query()
	if language != "" {
		query.Set("hl", language)
	}
	if country != "" {
		query.Set("gl", country)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func buildRequestPayload(appID string, count int, token string) string {
	pageToken := "null"
	if token != "" {
		encoded, _ := json.Marshal(token)
		pageToken = string(encoded)
	}
	appRef, _ := json.Marshal(appID)

	inner := fmt.Sprintf("[null,null,[2,%d,[%d,null,%s],null,[]],[%s,7]]", sortNewest, count, pageToken, appRef)
	outer, _ := json.Marshal([]any{[]any{[]any{rpcID, inner, nil, "generic"}}})
	return string(outer)
}

func parseResponse(body []byte) ([]provider.Item, string, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte(responseGuard))

	var envelope []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &envelope); err != nil {
		return nil, "", fmt.Errorf("parse envelope: %w", err)
	}

	for _, raw := range envelope {
		var frame []any
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 3 {
			continue
		}
		if frame[0] != "wrb.fr" || frame[1] != rpcID {
			continue
		}

		payload, ok := frame[2].(string)
		if !ok {
			// An empty payload means the listing has no reviews.
			return nil, "", nil
		}

		var data []any
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return nil, "", fmt.Errorf("parse payload: %w", err)
		}
		return extractReviews(data), extractToken(data), nil
	}

	return nil, "", fmt.Errorf("rpc %s missing from response", rpcID)
}

func extractReviews(data []any) []provider.Item {
	entries, _ := at(data, 0).([]any)
	items := make([]provider.Item, 0, len(entries))
	for _, entry := range entries {
		item := provider.Item{
			"reviewId": at(entry, 0),
			"userName": at(entry, 1, 0),
			"content":  at(entry, 4),
			"score":    at(entry, 2),
		}
		if seconds, ok := at(entry, 5, 0).(float64); ok {
			item["at"] = time.Unix(int64(seconds), 0)
		}
		items = append(items, item)
	}
	return items
}

func extractToken(data []any) string {
	if len(data) < 2 {
		return ""
	}
	meta, ok := data[len(data)-1].([]any)
	if !ok || len(meta) == 0 {
		return ""
	}
	token, _ := meta[len(meta)-1].(string)
	return token
}

// at walks nested JSON arrays, returning nil when any index is missing.
func at(v any, path ...int) any {
	for _, idx := range path {
		arr, ok := v.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil
		}
		v = arr[idx]
	}
	return v
}
