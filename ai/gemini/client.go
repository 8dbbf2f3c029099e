package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/retry"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
	maxSSELine       = 1 << 20
)

// Client implements ai.Tagger against the Gemini REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	auth       authorizer
	factory    SourceFactory
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

var _ ai.Tagger = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSource overrides how bearer tokens are obtained.
func WithSource(factory SourceFactory) Option {
	return func(c *Client) {
		c.auth = nil
		c.factory = factory
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a Gemini client. In bearer mode the first token is
// fetched immediately so that missing credentials fail at startup.
func NewClient(ctx context.Context, config *ai.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		baseURL:    config.GeminiBaseURL,
		model:      config.GeminiModel,
		policy:     config.RetryPolicy(),
		logger:     slog.Default(),
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
	}

	switch {
	case config.APIKey != "":
		c.factory = nil
		c.auth = apiKey(config.APIKey)
	case config.CredentialsFile != "":
		c.factory = FileSource(config.CredentialsFile)
	default:
		c.factory = DefaultSource()
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "gemini", "model", c.model)

	if c.auth == nil {
		creds := NewCredentials(c.factory, config.TokenLifespan)
		if _, err := creds.Refresh(ctx); err != nil {
			return nil, err
		}
		c.auth = creds
	}

	return c, nil
}

// GenerateTags asks the model for tags describing chunk. Rate limits and
// server errors are retried with backoff, auth failures trigger a token
// refresh, and every other failure yields an empty result.
func (c *Client) GenerateTags(ctx context.Context, chunk string) []string {
	req := &generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: ai.TagPrompt(chunk)}}}},
		GenerationConfig: &generationConfig{
			Temperature:      ptr(0.0),
			ResponseMIMEType: "application/json",
		},
	}

	var tags []string
	attempts := 0
	err := retry.Do(ctx, c.withLogging(), func(ctx context.Context) error {
		attempts++
		text, err := c.generate(ctx, req)
		if err != nil {
			return err
		}
		tags = ai.ParseTags(text, ai.TagFormatJSON)
		return nil
	}, ai.Classify, c.auth.refresh)
	if err != nil {
		c.logger.Warn("skipping chunk, tagging failed",
			"kind", core.KindChunkSkip,
			"attempts", attempts,
			"err", err)
		return []string{}
	}
	if len(tags) == 0 {
		c.logger.Debug("model response held no tags", "kind", core.KindChunkSkip)
	}
	return tags
}

// StreamResponse streams a recommendation grounded in excerpts.
// Opening the stream follows the same retry policy as GenerateTags.
func (c *Client) StreamResponse(ctx context.Context, query string, excerpts []core.Metadata) (<-chan ai.StreamEvent, error) {
	req := &generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: ai.CriticPrompt(query, excerpts)}}}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = retry.Do(ctx, c.withLogging(), func(ctx context.Context) error {
		var err error
		resp, err = c.post(ctx, ":streamGenerateContent?alt=sse", body)
		return err
	}, ai.Classify, c.auth.refresh)
	if err != nil {
		return nil, err
	}

	events := make(chan ai.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); err != nil {
				c.logger.Debug("ignoring undecodable stream line", "err", err)
				continue
			}
			if text, ok := chunk.text(); ok && text != "" {
				if !send(ctx, events, ai.ChunkEvent(text)) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Error("stream interrupted", "err", err)
			send(ctx, events, ai.ErrorEvent(err))
			return
		}
		send(ctx, events, ai.SourcesEvent(ai.SourcesFromExcerpts(excerpts)))
	}()

	return events, nil
}

// generate performs one generateContent call and returns the first candidate's text.
func (c *Client) generate(ctx context.Context, req *generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, ":generateContent", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %w", ai.ErrMalformedResponse, err)
	}
	text, ok := decoded.text()
	if !ok {
		return "", fmt.Errorf("%w: no candidates", ai.ErrMalformedResponse)
	}
	return text, nil
}

// post sends body to the model endpoint with the given method suffix.
// Non-200 answers are drained and returned as *ai.StatusError.
func (c *Client) post(ctx context.Context, suffix string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := c.baseURL + "/models/" + c.model + suffix
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ai.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// withLogging returns the retry policy with a hook that logs each backoff.
func (c *Client) withLogging() retry.Policy {
	p := c.policy
	next := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Info("backend unavailable, backing off", "attempt", attempt, "delay", delay, "err", err)
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return p
}

func send(ctx context.Context, events chan<- ai.StreamEvent, ev ai.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func ptr[T any](v T) *T {
	return &v
}
