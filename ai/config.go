// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/baler/retry"
)

// ProviderKind selects the language-model backend.
type ProviderKind string

const (
	// ProviderGemini talks to the Gemini REST API.
	ProviderGemini ProviderKind = "gemini"
	// ProviderOpenAI talks to any OpenAI-compatible chat API (Ollama, vLLM, OpenAI).
	ProviderOpenAI ProviderKind = "openai"
)

// EmbedderKind selects the embedding backend.
type EmbedderKind string

const (
	// EmbedderFastEmbed runs an ONNX sentence-transformer locally.
	EmbedderFastEmbed EmbedderKind = "fastembed"
	// EmbedderOpenAI calls an OpenAI-compatible embeddings API.
	EmbedderOpenAI EmbedderKind = "openai"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the tagging and response backend.
	Provider ProviderKind

	// Embedder selects the embedding backend.
	Embedder EmbedderKind

	// GeminiBaseURL is the root of the Gemini REST API.
	GeminiBaseURL string

	// GeminiModel is the Gemini model identifier.
	GeminiModel string

	// APIKey, when set, authenticates Gemini requests with a static key
	// instead of OAuth2 bearer tokens.
	APIKey string

	// CredentialsFile is a service-account JSON file. Empty means
	// application default credentials.
	CredentialsFile string

	// TokenLifespan is how long a bearer token is trusted before refresh.
	// Default: 45m
	TokenLifespan time.Duration

	// ClassifierHost is the base URL of the OpenAI-compatible chat API.
	// Example: "http://localhost:11434/v1" for a local Ollama server
	ClassifierHost string

	// ClassifierModel is the chat model used by ProviderOpenAI.
	ClassifierModel string

	// EmbeddingHost is the base URL of the OpenAI-compatible embeddings API.
	EmbeddingHost string

	// EmbeddingModel is the embedding model identifier.
	// For EmbedderFastEmbed: "sentence-transformers/all-MiniLM-L6-v2"
	EmbeddingModel string

	// EmbeddingCacheDir holds downloaded local models.
	EmbeddingCacheDir string

	// MaxAttempts bounds retries of a single backend call.
	// Default: 5
	MaxAttempts int

	// BaseDelay is the first backoff delay; it doubles per attempt.
	// Default: 1s
	BaseDelay time.Duration

	// BackoffConstant is added to every backoff delay.
	// Default: 1s
	BackoffConstant time.Duration

	// RequestTimeout bounds a single HTTP request.
	// Default: 45s
	RequestTimeout time.Duration

	// RequestsPerSecond limits calls to the language model. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter's burst size.
	Burst int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the language-model backend.
func WithProvider(kind ProviderKind) ConfigOption {
	return func(c *Config) {
		c.Provider = kind
	}
}

// WithEmbedder sets the embedding backend.
func WithEmbedder(kind EmbedderKind) ConfigOption {
	return func(c *Config) {
		c.Embedder = kind
	}
}

// WithGeminiModel sets the Gemini model identifier.
func WithGeminiModel(model string) ConfigOption {
	return func(c *Config) {
		c.GeminiModel = model
	}
}

// WithGeminiBaseURL sets the Gemini API root.
func WithGeminiBaseURL(url string) ConfigOption {
	return func(c *Config) {
		c.GeminiBaseURL = url
	}
}

// WithAPIKey switches Gemini authentication to a static API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithCredentialsFile sets the service-account file used for bearer tokens.
func WithCredentialsFile(path string) ConfigOption {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

// WithTokenLifespan sets how long a bearer token is reused.
func WithTokenLifespan(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.TokenLifespan = d
	}
}

// WithHost sets both embedding and classifier hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.ClassifierHost = host
	}
}

// WithClassifierHost sets the OpenAI-compatible chat host URL.
func WithClassifierHost(host string) ConfigOption {
	return func(c *Config) {
		c.ClassifierHost = host
	}
}

// WithClassifierModel sets the OpenAI-compatible chat model.
func WithClassifierModel(model string) ConfigOption {
	return func(c *Config) {
		c.ClassifierModel = model
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithEmbeddingCacheDir sets where local embedding models are cached.
func WithEmbeddingCacheDir(dir string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingCacheDir = dir
	}
}

// WithRetry sets the retry bound and backoff delays.
func WithRetry(maxAttempts int, baseDelay, constant time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.BaseDelay = baseDelay
		c.BackoffConstant = constant
	}
}

// WithRateLimit limits language-model calls per second.
func WithRateLimit(perSecond float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = perSecond
		c.Burst = burst
	}
}

// WithRequestTimeout bounds each HTTP request.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// DefaultConfig returns a Config that tags with Gemini and embeds locally.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		Provider:        ProviderGemini,
		Embedder:        EmbedderFastEmbed,
		GeminiBaseURL:   "https://generativelanguage.googleapis.com/v1beta",
		GeminiModel:     "gemini-2.5-flash-preview-09-2025",
		TokenLifespan:   45 * time.Minute,
		ClassifierHost:  defaultHost,
		ClassifierModel: "qwen2.5:3b",
		EmbeddingHost:   defaultHost,
		EmbeddingModel:  "sentence-transformers/all-MiniLM-L6-v2",
		MaxAttempts:     5,
		BaseDelay:       time.Second,
		BackoffConstant: time.Second,
		RequestTimeout:  45 * time.Second,
		Burst:           1,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithProvider(ProviderOpenAI),
//	    WithHost("http://localhost:11434/v1"),
//	    WithClassifierModel("qwen2.5:7b"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// RetryPolicy returns the backoff policy shared by every backend call.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Constant:    c.BackoffConstant,
	}
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get a /v1 suffix and the Gemini root loses its
// trailing slash.
func (c *Config) Normalize() {
	c.ClassifierHost = withV1(c.ClassifierHost)
	c.EmbeddingHost = withV1(c.EmbeddingHost)
	c.GeminiBaseURL = strings.TrimSuffix(c.GeminiBaseURL, "/")
	c.Provider = ProviderKind(strings.ToLower(string(c.Provider)))
	c.Embedder = EmbedderKind(strings.ToLower(string(c.Embedder)))
}

func withV1(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Provider {
	case ProviderGemini:
		if c.GeminiBaseURL == "" {
			return errors.New("ai config: GeminiBaseURL is required")
		}
		if c.GeminiModel == "" {
			return errors.New("ai config: GeminiModel is required")
		}
		if c.APIKey == "" && c.TokenLifespan <= 0 {
			return errors.New("ai config: TokenLifespan must be positive")
		}
	case ProviderOpenAI:
		if c.ClassifierHost == "" {
			return errors.New("ai config: ClassifierHost is required")
		}
		if c.ClassifierModel == "" {
			return errors.New("ai config: ClassifierModel is required")
		}
	default:
		return fmt.Errorf("ai config: %w: provider %q", ErrUnsupportedProvider, c.Provider)
	}

	switch c.Embedder {
	case EmbedderFastEmbed:
	case EmbedderOpenAI:
		if c.EmbeddingHost == "" {
			return errors.New("ai config: EmbeddingHost is required")
		}
	default:
		return fmt.Errorf("ai config: %w: embedder %q", ErrUnsupportedProvider, c.Embedder)
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}

	if c.MaxAttempts < 1 {
		return errors.New("ai config: MaxAttempts must be at least 1")
	}
	if c.BaseDelay < 0 || c.BackoffConstant < 0 {
		return errors.New("ai config: backoff delays cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond cannot be negative")
	}
	return nil
}
