// Package resourcemanager lists the clouds and folders a user may attribute
// recognition requests to.
package resourcemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wrale/vmtt-bot/internal/iam"
)

// BaseURL is the production resource manager API
const BaseURL = "https://resource-manager.api.cloud.yandex.net/resource-manager/v1"

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
	maxPages       = 100
)

// ErrPagination indicates the server kept paging past a sane end
var ErrPagination = errors.New("pagination does not terminate")

// Resolver turns a long-lived token into a bearer credential
type Resolver interface {
	Resolve(ctx context.Context, longLivedToken string) (*iam.Credential, error)
}

// Folder is a selectable scope with a human-readable label
type Folder struct {
	ID    string
	Label string
}

// ListError reports a failed listing call
type ListError struct {
	Resource   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ListError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("listing %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("listing %s: status %d: %s", e.Resource, e.StatusCode, e.Body)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// Client lists clouds and their folders
type Client struct {
	resolver Resolver
	baseURL  string
	client   *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for listing calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a resource manager client. An empty baseURL selects
// the production API.
func NewClient(resolver Resolver, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	c := &Client{
		resolver: resolver,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListFolders returns every folder of every cloud visible to the token,
// labelled "<cloud> - <folder>". Any failure discards partial results.
func (c *Client) ListFolders(ctx context.Context, longLivedToken string) ([]Folder, error) {
	cred, err := c.resolver.Resolve(ctx, longLivedToken)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	clouds, err := c.list(ctx, cred, "clouds", nil)
	if err != nil {
		return nil, err
	}

	var folders []Folder
	for _, cloud := range clouds {
		items, err := c.list(ctx, cred, "folders", url.Values{"cloudId": {cloud.ID}})
		if err != nil {
			return nil, err
		}
		for _, f := range items {
			folders = append(folders, Folder{
				ID:    f.ID,
				Label: cloud.Name + " - " + f.Name,
			})
		}
	}

	return folders, nil
}

// list fetches every page of a collection
func (c *Client) list(ctx context.Context, cred *iam.Credential, kind string, query url.Values) ([]resource, error) {
	var all []resource
	pageToken := ""
	seen := map[string]bool{}
	for pages := 0; ; pages++ {
		if pages == maxPages {
			return nil, &ListError{Resource: kind, Err: fmt.Errorf("%w: more than %d pages", ErrPagination, maxPages)}
		}
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		page, next, err := c.fetchPage(ctx, cred, kind, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if next == "" {
			return all, nil
		}
		if seen[next] {
			return nil, &ListError{Resource: kind, Err: fmt.Errorf("%w: page token %q repeated", ErrPagination, next)}
		}
		seen[next] = true
		pageToken = next
	}
}

func (c *Client) fetchPage(ctx context.Context, cred *iam.Credential, kind string, q url.Values) ([]resource, string, error) {
	u := c.baseURL + "/" + kind
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating %s request: %w", kind, err)
	}
	req.Header.Set("Authorization", cred.Authorization())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", &ListError{Resource: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", &ListError{Resource: kind, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &ListError{Resource: kind, StatusCode: resp.StatusCode, Body: string(body)}
	}

	// Collections are keyed by their kind, e.g. {"clouds": [...]}
	var page map[string]json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", &ListError{Resource: kind, StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}

	var items []resource
	if raw, ok := page[kind]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, "", &ListError{Resource: kind, StatusCode: resp.StatusCode, Body: string(body), Err: err}
		}
	}

	var next string
	if raw, ok := page["nextPageToken"]; ok {
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, "", &ListError{Resource: kind, StatusCode: resp.StatusCode, Body: string(body), Err: err}
		}
	}

	return items, next, nil
}
