// Package config loads baler settings from an optional YAML file and
// BALER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/retry"
	"github.com/poiesic/baler/storage/qdrant"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
)

// Config is the complete application configuration.
type Config struct {
	Store   StoreConfig   `koanf:"store"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
	AI      AIConfig      `koanf:"ai"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Search  SearchConfig  `koanf:"search"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// StoreConfig selects and tunes the vector index.
type StoreConfig struct {
	Backend         string   `koanf:"backend"`
	Path            string   `koanf:"path"`
	InMemory        bool     `koanf:"in_memory"`
	PageSize        int      `koanf:"page_size"`
	UpsertBatchSize int      `koanf:"upsert_batch_size"`
	ReadyTimeout    Duration `koanf:"ready_timeout"`
	ReadyInterval   Duration `koanf:"ready_interval"`
}

// QdrantConfig locates the remote collection.
type QdrantConfig struct {
	Host          string   `koanf:"host"`
	Port          int      `koanf:"port"`
	UseTLS        bool     `koanf:"use_tls"`
	APIKey        Secret   `koanf:"api_key"`
	Collection    string   `koanf:"collection"`
	VectorSize    int      `koanf:"vector_size"`
	RetryAttempts int      `koanf:"retry_attempts"`
	RetryDelay    Duration `koanf:"retry_delay"`
}

// AIConfig selects the language-model and embedding backends.
type AIConfig struct {
	Provider          string   `koanf:"provider"`
	Embedder          string   `koanf:"embedder"`
	GeminiBaseURL     string   `koanf:"gemini_base_url"`
	GeminiModel       string   `koanf:"gemini_model"`
	APIKey            Secret   `koanf:"api_key"`
	CredentialsFile   string   `koanf:"credentials_file"`
	TokenLifespan     Duration `koanf:"token_lifespan"`
	ClassifierHost    string   `koanf:"classifier_host"`
	ClassifierModel   string   `koanf:"classifier_model"`
	EmbeddingHost     string   `koanf:"embedding_host"`
	EmbeddingModel    string   `koanf:"embedding_model"`
	EmbeddingCacheDir string   `koanf:"embedding_cache_dir"`
	MaxAttempts       int      `koanf:"max_attempts"`
	BaseDelay         Duration `koanf:"base_delay"`
	BackoffConstant   Duration `koanf:"backoff_constant"`
	RequestTimeout    Duration `koanf:"request_timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	BatchSize       int      `koanf:"batch_size"`
	Concurrency     int      `koanf:"concurrency"`
	InterBatchDelay Duration `koanf:"inter_batch_delay"`
	ChunkSize       int      `koanf:"chunk_size"`
	ChunkOverlap    int      `koanf:"chunk_overlap"`
}

// SearchConfig tunes recommendations.
type SearchConfig struct {
	TopK int `koanf:"top_k"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// applyDefaults fills every zero value with its default.
func applyDefaults(cfg *Config) {
	defaults := ai.DefaultConfig()
	qd := qdrant.DefaultConfig()

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendBadger
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./db"
	}
	if cfg.Store.PageSize == 0 {
		cfg.Store.PageSize = 1000
	}
	if cfg.Store.UpsertBatchSize == 0 {
		cfg.Store.UpsertBatchSize = 100
	}
	if cfg.Store.ReadyTimeout == 0 {
		cfg.Store.ReadyTimeout = Duration(60 * time.Second)
	}
	if cfg.Store.ReadyInterval == 0 {
		cfg.Store.ReadyInterval = Duration(time.Second)
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = qd.Host
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = qd.Port
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = qd.Collection
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = qd.VectorSize
	}
	if cfg.Qdrant.RetryAttempts == 0 {
		cfg.Qdrant.RetryAttempts = qd.Retry.MaxAttempts
	}
	if cfg.Qdrant.RetryDelay == 0 {
		cfg.Qdrant.RetryDelay = Duration(qd.Retry.BaseDelay)
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = string(defaults.Provider)
	}
	if cfg.AI.Embedder == "" {
		cfg.AI.Embedder = string(defaults.Embedder)
	}
	if cfg.AI.GeminiBaseURL == "" {
		cfg.AI.GeminiBaseURL = defaults.GeminiBaseURL
	}
	if cfg.AI.GeminiModel == "" {
		cfg.AI.GeminiModel = defaults.GeminiModel
	}
	if cfg.AI.TokenLifespan == 0 {
		cfg.AI.TokenLifespan = Duration(defaults.TokenLifespan)
	}
	if cfg.AI.ClassifierHost == "" {
		cfg.AI.ClassifierHost = defaults.ClassifierHost
	}
	if cfg.AI.ClassifierModel == "" {
		cfg.AI.ClassifierModel = defaults.ClassifierModel
	}
	if cfg.AI.EmbeddingHost == "" {
		cfg.AI.EmbeddingHost = defaults.EmbeddingHost
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = defaults.EmbeddingModel
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.AI.BaseDelay == 0 {
		cfg.AI.BaseDelay = Duration(defaults.BaseDelay)
	}
	if cfg.AI.BackoffConstant == 0 {
		cfg.AI.BackoffConstant = Duration(defaults.BackoffConstant)
	}
	if cfg.AI.RequestTimeout == 0 {
		cfg.AI.RequestTimeout = Duration(defaults.RequestTimeout)
	}
	if cfg.AI.Burst == 0 {
		cfg.AI.Burst = defaults.Burst
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 5
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 10
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 4
		if cfg.Ingest.ChunkOverlap == 0 {
			cfg.Ingest.ChunkOverlap = 1
		}
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Backend) {
	case BackendBadger:
		if c.Store.Path == "" && !c.Store.InMemory {
			errs = append(errs, errors.New("store.path is required for the badger backend"))
		}
	case BackendQdrant:
		if err := c.QdrantConfig().Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendBadger, BackendQdrant, c.Store.Backend))
	}
	if c.Store.PageSize < 1 {
		errs = append(errs, errors.New("store.page_size must be positive"))
	}
	if c.Store.UpsertBatchSize < 1 {
		errs = append(errs, errors.New("store.upsert_batch_size must be positive"))
	}

	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Ingest.BatchSize < 1 {
		errs = append(errs, errors.New("ingest.batch_size must be positive"))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, errors.New("ingest.concurrency must be positive"))
	}
	if c.Ingest.ChunkSize < 1 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got size=%d overlap=%d",
			c.Ingest.ChunkSize, c.Ingest.ChunkOverlap))
	}

	if c.Search.TopK < 1 {
		errs = append(errs, errors.New("search.top_k must be positive"))
	}

	return errors.Join(errs...)
}

// AIConfig converts the AI section into an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	a := c.AI
	return ai.NewConfig(
		ai.WithProvider(ai.ProviderKind(a.Provider)),
		ai.WithEmbedder(ai.EmbedderKind(a.Embedder)),
		ai.WithGeminiBaseURL(a.GeminiBaseURL),
		ai.WithGeminiModel(a.GeminiModel),
		ai.WithAPIKey(a.APIKey.Value()),
		ai.WithCredentialsFile(a.CredentialsFile),
		ai.WithTokenLifespan(a.TokenLifespan.Duration()),
		ai.WithClassifierHost(a.ClassifierHost),
		ai.WithClassifierModel(a.ClassifierModel),
		ai.WithEmbeddingHost(a.EmbeddingHost),
		ai.WithEmbeddingModel(a.EmbeddingModel),
		ai.WithEmbeddingCacheDir(a.EmbeddingCacheDir),
		ai.WithRetry(a.MaxAttempts, a.BaseDelay.Duration(), a.BackoffConstant.Duration()),
		ai.WithRequestTimeout(a.RequestTimeout.Duration()),
		ai.WithRateLimit(a.RequestsPerSecond, a.Burst),
	)
}

// QdrantConfig converts the qdrant section into a qdrant.Config.
func (c *Config) QdrantConfig() qdrant.Config {
	cfg := qdrant.DefaultConfig()
	cfg.Host = c.Qdrant.Host
	cfg.Port = c.Qdrant.Port
	cfg.UseTLS = c.Qdrant.UseTLS
	cfg.APIKey = c.Qdrant.APIKey.Value()
	cfg.Collection = c.Qdrant.Collection
	cfg.VectorSize = c.Qdrant.VectorSize
	cfg.Retry = retry.Policy{
		MaxAttempts: c.Qdrant.RetryAttempts,
		BaseDelay:   c.Qdrant.RetryDelay.Duration(),
	}
	return cfg
}
