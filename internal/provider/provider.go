package provider

import (
	"context"
	"errors"
	"fmt"

	"ReviewInsights/internal/domain"
)

// ErrUnknownPlatform is returned when no provider is registered for a platform.
var ErrUnknownPlatform = errors.New("no provider registered for platform")

// Item is a provider-native review record. Field names differ between stores;
// Normalize maps them onto domain.RawReview.
type Item map[string]any

// Request carries all parameters required to fetch reviews for one app.
type Request struct {
	AppID    string
	Country  string
	Language string
	Count    int
}

// Provider captures a single store implementation (Google Play, App Store).
type Provider interface {
	Platform() domain.Platform
	Fetch(ctx context.Context, req Request) ([]Item, error)
}

// Registry keeps a mapping from platforms to their providers.
type Registry struct {
	providers map[domain.Platform]Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[domain.Platform]Provider{}}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = map[domain.Platform]Provider{}
	}
	r.providers[p.Platform()] = p
}

// Resolve returns the provider for a platform.
func (r *Registry) Resolve(platform domain.Platform) (Provider, error) {
	if p, ok := r.providers[platform]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
}
