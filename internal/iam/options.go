package iam

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient sets the client used for issuance and metadata calls
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithStore replaces the default in-memory credential cache
func WithStore(s Store) Option {
	return func(p *Provider) {
		p.store = s
	}
}

// WithStaticToken sets the long-lived token used when a caller passes none
func WithStaticToken(token string) Option {
	return func(p *Provider) {
		p.staticToken = token
	}
}

// WithTokenURL overrides the IAM token issuance endpoint
func WithTokenURL(u string) Option {
	return func(p *Provider) {
		p.tokenURL = u
	}
}

// WithMetadataURL overrides the instance metadata token endpoint
func WithMetadataURL(u string) Option {
	return func(p *Provider) {
		p.metadataURL = u
	}
}

// WithSafetyMargin sets how long before expiry a credential is refreshed
func WithSafetyMargin(d time.Duration) Option {
	return func(p *Provider) {
		p.safetyMargin = d
	}
}

// WithLogger sets the logger for cache failures
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// withClock is used by tests to pin the current time
func withClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}
