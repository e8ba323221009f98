// Package oauth implements the authorization-code flow against the Yandex
// OAuth server: authorization URL, code exchange and token revocation.
package oauth

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured is returned by every operation when no client
// credentials were supplied at startup
var ErrNotConfigured = errors.New("oauth client is not configured")

// Config holds static OAuth client configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Configured reports whether the client credentials are present
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Endpoints are the OAuth server URLs
type Endpoints struct {
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

// YandexEndpoints are the production Yandex OAuth endpoints
var YandexEndpoints = Endpoints{
	AuthURL:   "https://oauth.yandex.ru/authorize",
	TokenURL:  "https://oauth.yandex.ru/token",
	RevokeURL: "https://oauth.yandex.ru/revoke_token",
}

// Token is the long-lived token obtained from a code exchange
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ExchangeError reports a failed authorization code exchange
type ExchangeError struct {
	StatusCode  int
	Code        string
	Description string
	Body        string
	Err         error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("exchanging authorization code: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("exchanging authorization code: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
	default:
		return fmt.Sprintf("exchanging authorization code: status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// RevocationError reports a failed token revocation
type RevocationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RevocationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("revoking token: %v", e.Err)
	}
	return fmt.Sprintf("revoking token: status %d: %s", e.StatusCode, e.Body)
}

func (e *RevocationError) Unwrap() error {
	return e.Err
}
