// Package iam resolves short-lived IAM credentials for outbound cloud calls.
package iam

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSafetyMargin is how far in the future a cached credential must
// still be valid for Resolve to hand it out without a refresh.
const DefaultSafetyMargin = 60 * time.Second

// ErrMalformedResponse indicates a token endpoint replied 2xx without the
// fields a credential requires.
var ErrMalformedResponse = errors.New("malformed token response")

// Credential is a short-lived bearer token with its absolute expiry.
// A Credential is never mutated; refreshing replaces it.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the credential is still usable at now plus margin.
func (c *Credential) ValidAt(now time.Time, margin time.Duration) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return c.ExpiresAt.After(now.Add(margin))
}

// Authorization returns the value of an Authorization header.
func (c *Credential) Authorization() string {
	return "Bearer " + c.Token
}

// Store holds cached credentials keyed by their source.
type Store interface {
	// Load returns the cached credential, or nil if there is none
	Load(ctx context.Context, key string) (*Credential, error)

	// Save replaces the cached credential for key
	Save(ctx context.Context, key string, cred *Credential) error

	// Delete forgets the cached credential for key
	Delete(ctx context.Context, key string) error
}

// Source identifies where a credential was minted from.
type Source int

const (
	// SourceSession exchanges a per-session long-lived OAuth token
	SourceSession Source = iota
	// SourceStatic exchanges the statically configured OAuth token
	SourceStatic
	// SourceMetadata asks the instance metadata service
	SourceMetadata
)

func (s Source) String() string {
	switch s {
	case SourceSession:
		return "session"
	case SourceStatic:
		return "static"
	case SourceMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// FetchError reports a failed issuance or metadata call. StatusCode is zero
// when the request never produced a response.
type FetchError struct {
	Source     Source
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetching %s credential: %v", e.Source, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetching %s credential: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching %s credential: status %d: %s", e.Source, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
