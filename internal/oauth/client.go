package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// CloudScope grants access to Yandex Cloud on behalf of the user
	CloudScope = "cloud:auth"

	// HTTP request timeouts
	defaultTimeout = 10 * time.Second
)

// Client performs the administrative operations of the authorization-code flow
type Client struct {
	cfg       Config
	endpoints Endpoints
	client    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for token and revocation calls
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithEndpoints overrides the OAuth server URLs
func WithEndpoints(e Endpoints) Option {
	return func(cl *Client) {
		cl.endpoints = e
	}
}

// NewClient creates a client. A zero Config yields a client whose operations
// fail with ErrNotConfigured.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		endpoints: YandexEndpoints,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether OAuth operations are available
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

func (c *Client) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       []string{CloudScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoints.AuthURL,
			TokenURL:  c.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the URL the user opens to grant access. No network
// call is made.
func (c *Client) AuthorizationURL(deviceID, deviceName, state string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	return c.oauth2Config().AuthCodeURL(state,
		oauth2.SetAuthURLParam("device_id", deviceID),
		oauth2.SetAuthURLParam("device_name", deviceName),
	), nil
}

// ExchangeCode exchanges an authorization code for a long-lived token
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := c.oauth2Config().Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &ExchangeError{
				StatusCode:  retrieveErr.Response.StatusCode,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				Body:        string(retrieveErr.Body),
				Err:         err,
			}
		}
		return nil, &ExchangeError{Err: err}
	}

	scope, _ := tok.Extra("scope").(string)
	return &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Revoke invalidates a long-lived token on the OAuth server. Callers treat a
// failure as non-fatal and forget local state regardless.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	// Prepare revocation request
	data := url.Values{
		"access_token":  {token},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Send request and check response
	resp, err := c.client.Do(req)
	if err != nil {
		return &RevocationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &RevocationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
