// Package appstore fetches iOS reviews from the App Store customer-review
// Atom feed.
package appstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/provider"
)

const (
	defaultBaseURL = "https://itunes.apple.com"
	maxPages       = 10
)

// Provider implements provider.Provider for iOS apps.
type Provider struct {
	baseURL string
	client  *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider wires an HTTP client; baseURL defaults to the public feed host.
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
	return domain.PlatformIOS
}

// Fetch walks the most-recent feed pages until req.Count reviews are
// collected. Items carry the keys review, rating, date, title and author.
func (p *Provider) Fetch(ctx context.Context, req provider.Request) ([]provider.Item, error) {
	if req.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}

	country := req.Country
	if country == "" {
		country = "us"
	}

	parser := gofeed.NewParser()
	var items []provider.Item
	for page := 1; page <= maxPages && len(items) < req.Count; page++ {
		feed, err := p.fetchFeed(ctx, parser, feedURL(p.baseURL, country, req.AppID, page))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		pageItems := extractReviews(feed)
		if len(pageItems) == 0 {
			break
		}
		items = append(items, pageItems...)
	}

	if len(items) > req.Count {
		items = items[:req.Count]
	}
	return items, nil
}

func feedURL(base, country, appID string, page int) string {
	return fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=mostrecent/xml", base, country, page, appID)
}

func (p *Provider) fetchFeed(ctx context.Context, parser *gofeed.Parser, pageURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ReviewInsights/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app store returned %s", resp.Status)
	}

	feed, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// Entries without an im:rating describe the app itself and are skipped.
func extractReviews(feed *gofeed.Feed) []provider.Item {
	if feed == nil {
		return nil
	}

	items := make([]provider.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		rating := extension(entry, "im", "rating")
		if rating == "" {
			continue
		}

		item := provider.Item{
			"review": plainText(entry.Content),
			"rating": rating,
			"title":  strings.TrimSpace(entry.Title),
		}
		if entry.UpdatedParsed != nil {
			item["date"] = *entry.UpdatedParsed
		} else if entry.PublishedParsed != nil {
			item["date"] = *entry.PublishedParsed
		}
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			item["author"] = entry.Authors[0].Name
		}
		items = append(items, item)
	}
	return items
}

func extension(entry *gofeed.Item, prefix, name string) string {
	values := entry.Extensions[prefix][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

// plainText strips markup from review bodies served as HTML.
func plainText(content string) string {
	content = strings.TrimSpace(content)
	if !strings.Contains(content, "<") {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}
