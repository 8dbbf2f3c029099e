package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/poiesic/baler/ai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// Scope grants access to the Generative Language API.
const Scope = "https://www.googleapis.com/auth/generative-language"

// SourceFactory builds a fresh token source. It is called on every refresh
// so that a forced refresh really mints a new token instead of returning one
// cached by an oauth2.ReuseTokenSource.
type SourceFactory func(ctx context.Context) (oauth2.TokenSource, error)

// DefaultSource uses Google application default credentials.
func DefaultSource() SourceFactory {
	return func(ctx context.Context) (oauth2.TokenSource, error) {
		return google.DefaultTokenSource(ctx, Scope)
	}
}

// FileSource reads a service-account or authorized-user JSON file.
func FileSource(path string) SourceFactory {
	return func(ctx context.Context) (oauth2.TokenSource, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		creds, err := google.CredentialsFromJSON(ctx, data, Scope)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	}
}

// StaticSource always yields the same token. Useful with tokens minted out of band.
func StaticSource(token string) SourceFactory {
	return func(context.Context) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
	}
}

// authorizer decorates requests with credentials.
type authorizer interface {
	authorize(ctx context.Context, req *http.Request) error
	refresh(ctx context.Context) error
}

// Credentials caches a bearer token for a bounded lifespan.
//
// Token refreshes when the cached token is older than the lifespan. Refresh
// forces a new token. Concurrent refreshes are coalesced; when two callers
// race past the coalescing window the last writer wins, which is harmless
// because any freshly minted token is valid.
type Credentials struct {
	factory  SourceFactory
	lifespan time.Duration
	now      func() time.Time
	group    singleflight.Group
	logger   *slog.Logger

	mu     sync.RWMutex
	token  string
	issued time.Time
}

var _ authorizer = (*Credentials)(nil)

// NewCredentials creates a credential cache. No token is fetched until first use.
func NewCredentials(factory SourceFactory, lifespan time.Duration) *Credentials {
	return &Credentials{
		factory:  factory,
		lifespan: lifespan,
		now:      time.Now,
		logger:   slog.Default().With("component", "gemini-credentials"),
	}
}

// Token returns a token no older than the lifespan, refreshing if needed.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, issued := c.token, c.issued
	c.mu.RUnlock()

	if token != "" && c.now().Sub(issued) < c.lifespan {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh mints a new token and caches it.
func (c *Credentials) Refresh(ctx context.Context) (string, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		c.logger.Debug("refreshing bearer token")
		source, err := c.factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ai.ErrNoCredentials, err)
		}
		tok, err := source.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ai.ErrNoCredentials, err)
		}
		if tok.AccessToken == "" {
			return nil, fmt.Errorf("%w: empty access token", ai.ErrNoCredentials)
		}

		c.mu.Lock()
		c.token = tok.AccessToken
		c.issued = c.now()
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
	if err != nil {
		c.logger.Error("token refresh failed", "err", err)
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

// Issued returns when the cached token was minted.
func (c *Credentials) Issued() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.issued
}

func (c *Credentials) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Credentials) refresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// apiKey authenticates with a static key. Refresh is a no-op.
type apiKey string

var _ authorizer = apiKey("")

func (k apiKey) authorize(_ context.Context, req *http.Request) error {
	if k == "" {
		return errors.New("gemini: empty api key")
	}
	req.Header.Set("x-goog-api-key", string(k))
	return nil
}

func (k apiKey) refresh(context.Context) error {
	return nil
}
