package iam

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// TokenURL is the IAM endpoint exchanging an OAuth token for an IAM token
	TokenURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

	// MetadataTokenURL is the instance metadata endpoint of the compute host
	MetadataTokenURL = "http://169.254.169.254/computeMetadata/v1/instance/service-accounts/default/token"

	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// Provider resolves a valid credential on demand, choosing between a
// per-session OAuth token, a static OAuth token and the instance metadata
// service, in that order.
type Provider struct {
	client       *http.Client
	store        Store
	tokenURL     string
	metadataURL  string
	staticToken  string
	safetyMargin time.Duration
	now          func() time.Time
	log          zerolog.Logger

	// serializes refreshes so two callers never race to replace a credential
	mu sync.Mutex
}

// NewProvider creates a provider with the given options
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		client:       &http.Client{Timeout: defaultTimeout},
		store:        NewMemoryStore(),
		tokenURL:     TokenURL,
		metadataURL:  MetadataTokenURL,
		safetyMargin: DefaultSafetyMargin,
		now:          time.Now,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type source struct {
	kind  Source
	key   string
	token string
}

func (p *Provider) source(longLivedToken string) source {
	switch {
	case longLivedToken != "":
		return source{kind: SourceSession, key: cacheKey(longLivedToken), token: longLivedToken}
	case p.staticToken != "":
		return source{kind: SourceStatic, key: SourceStatic.String(), token: p.staticToken}
	default:
		return source{kind: SourceMetadata, key: SourceMetadata.String()}
	}
}

// cacheKey hashes a long-lived token so it never appears in a store key
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return SourceSession.String() + ":" + hex.EncodeToString(sum[:])
}

// Resolve returns a credential valid for at least the safety margin. A fresh
// cached credential is returned without any network call; otherwise exactly
// one issuance or metadata call is made. Failures are not retried and leave
// the cache untouched.
func (p *Provider) Resolve(ctx context.Context, longLivedToken string) (*Credential, error) {
	src := p.source(longLivedToken)

	if cred := p.cached(ctx, src); cred != nil {
		return cred, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited
	if cred := p.cached(ctx, src); cred != nil {
		return cred, nil
	}

	var (
		cred *Credential
		err  error
	)
	if src.kind == SourceMetadata {
		cred, err = p.fetchMetadata(ctx)
	} else {
		cred, err = p.exchange(ctx, src)
	}
	if err != nil {
		return nil, err
	}

	if err := p.store.Save(ctx, src.key, cred); err != nil {
		p.log.Warn().Err(err).Str("source", src.kind.String()).Msg("caching credential")
	}

	return cred, nil
}

// Forget drops the cached credential minted from longLivedToken
func (p *Provider) Forget(ctx context.Context, longLivedToken string) error {
	if err := p.store.Delete(ctx, p.source(longLivedToken).key); err != nil {
		return fmt.Errorf("forgetting credential: %w", err)
	}
	return nil
}

func (p *Provider) cached(ctx context.Context, src source) *Credential {
	cred, err := p.store.Load(ctx, src.key)
	if err != nil {
		p.log.Warn().Err(err).Str("source", src.kind.String()).Msg("loading cached credential")
		return nil
	}
	if !cred.ValidAt(p.now(), p.safetyMargin) {
		return nil
	}
	return cred
}

func (p *Provider) exchange(ctx context.Context, src source) (*Credential, error) {
	payload, err := json.Marshal(struct {
		OAuthToken string `json:"yandexPassportOauthToken"`
	}{src.token})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := p.do(req, src.kind)
	if err != nil {
		return nil, err
	}

	var resp struct {
		IAMToken  string    `json:"iamToken"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Source: src.kind, StatusCode: http.StatusOK, Body: string(body), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if resp.IAMToken == "" || resp.ExpiresAt.IsZero() {
		return nil, &FetchError{Source: src.kind, StatusCode: http.StatusOK, Body: string(body), Err: ErrMalformedResponse}
	}

	return &Credential{Token: resp.IAMToken, ExpiresAt: resp.ExpiresAt.UTC()}, nil
}

func (p *Provider) fetchMetadata(ctx context.Context) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	body, err := p.do(req, SourceMetadata)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Source: SourceMetadata, StatusCode: http.StatusOK, Body: string(body), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return nil, &FetchError{Source: SourceMetadata, StatusCode: http.StatusOK, Body: string(body), Err: ErrMalformedResponse}
	}

	return &Credential{
		Token:     resp.AccessToken,
		ExpiresAt: p.now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// do sends req and returns the body of a 2xx response
func (p *Provider) do(req *http.Request, kind Source) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{Source: kind, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Source: kind, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
