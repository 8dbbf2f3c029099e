// Package qdrant implements storage.VectorIndex on a remote Qdrant
// collection over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/retry"
	"github.com/poiesic/baler/storage"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// documentKey holds the embedded document text alongside the metadata.
const documentKey = "document"

// Config describes how to reach the collection.
type Config struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	Collection     string
	VectorSize     int
	MaxMessageSize int
	Retry          retry.Policy
}

// DefaultConfig targets a local Qdrant and the reviews collection.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6334,
		Collection:     "pitchfork_reviews",
		VectorSize:     384,
		MaxMessageSize: 50 * 1024 * 1024,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("qdrant config: host is required")
	case c.Port <= 0:
		return errors.New("qdrant config: port must be positive")
	case c.Collection == "":
		return errors.New("qdrant config: collection is required")
	case c.VectorSize <= 0:
		return errors.New("qdrant config: vector size must be positive")
	case c.Retry.MaxAttempts < 1:
		return errors.New("qdrant config: retry attempts must be at least 1")
	}
	return nil
}

// Index implements storage.VectorIndex on a Qdrant collection.
type Index struct {
	client *qdrant.Client
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	ready bool // collection known to exist
}

var (
	_ storage.VectorIndex = (*Index)(nil)
	_ storage.Scanner     = (*Index)(nil)
)

// NewIndex prepares a client for the collection. No request is sent: the
// gRPC connection is dialed lazily and the collection is created with cosine
// distance on first use, so a server that is still starting is left to
// Ping and the caller's readiness wait.
//
// Returns storage.VectorIndex interface to enforce abstraction.
func NewIndex(ctx context.Context, config Config) (storage.VectorIndex, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	qc := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,

		SkipCompatibilityCheck: true,
	}
	if config.MaxMessageSize > 0 {
		qc.GrpcOptions = []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		}
	}

	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Index{
		client: client,
		config: config,
		logger: slog.Default().With("component", "qdrant-index", "collection", config.Collection),
	}, nil
}

// ensureCollection creates the collection once. A failed attempt is not
// remembered, so the next call tries again.
func (idx *Index) ensureCollection(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.ready {
		return nil
	}

	err := idx.do(ctx, func(ctx context.Context) error {
		exists, err := idx.client.CollectionExists(ctx, idx.config.Collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		idx.logger.Info("creating collection", "size", idx.config.VectorSize)
		return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: idx.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(idx.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return err
	}
	idx.ready = true
	return nil
}

// Ping runs a single Qdrant health check and, once the server answers,
// makes sure the collection exists.
func (idx *Index) Ping(ctx context.Context) error {
	if _, err := idx.client.HealthCheck(ctx); err != nil {
		return err
	}
	return idx.ensureCollection(ctx)
}

// Count returns the exact number of points in the collection.
func (idx *Index) Count(ctx context.Context) (int, error) {
	if err := idx.ensureCollection(ctx); err != nil {
		return 0, err
	}
	var count uint64
	err := idx.do(ctx, func(ctx context.Context) error {
		var err error
		count, err = idx.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: idx.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int(count), err
}

// Page scrolls from the start of the collection, discarding offset points,
// and returns the payloads of the next limit points. Use Scan to walk the
// whole collection.
func (idx *Index) Page(ctx context.Context, offset, limit int) ([]core.Metadata, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset=%d limit=%d", storage.ErrInvalidQuery, offset, limit)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	var cursor *qdrant.PointId
	for offset > 0 {
		points, next, err := idx.scroll(ctx, cursor, min(offset, limit))
		if err != nil {
			return nil, err
		}
		offset -= len(points)
		if next == nil {
			return []core.Metadata{}, nil
		}
		cursor = next
	}

	points, _, err := idx.scroll(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}
	page := make([]core.Metadata, len(points))
	for i, p := range points {
		page[i], _ = fromPayload(p.GetPayload())
	}
	return page, nil
}

// Scan calls fn with every payload in the collection, following the scroll
// cursor so each point is fetched once.
func (idx *Index) Scan(ctx context.Context, pageSize int, fn func(core.Metadata) error) error {
	if pageSize <= 0 {
		return fmt.Errorf("%w: page size=%d", storage.ErrInvalidQuery, pageSize)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return err
	}

	var cursor *qdrant.PointId
	for {
		points, next, err := idx.scroll(ctx, cursor, pageSize)
		if err != nil {
			return err
		}
		for _, p := range points {
			meta, _ := fromPayload(p.GetPayload())
			if err := fn(meta); err != nil {
				return err
			}
		}
		if next == nil || len(points) == 0 {
			return nil
		}
		cursor = next
	}
}

func (idx *Index) scroll(ctx context.Context, cursor *qdrant.PointId, limit int) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	var (
		points []*qdrant.RetrievedPoint
		next   *qdrant.PointId
	)
	err := idx.do(ctx, func(ctx context.Context) error {
		var err error
		points, next, err = idx.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: idx.config.Collection,
			Offset:         cursor,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	return points, next, err
}

// Query returns the n points nearest to vector. Embeddings are not fetched.
func (idx *Index) Query(ctx context.Context, vector []float32, n int) ([]*core.ScoredVector, error) {
	if n <= 0 || len(vector) == 0 {
		return nil, fmt.Errorf("%w: n=%d dims=%d", storage.ErrInvalidQuery, n, len(vector))
	}
	if len(vector) != idx.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %d",
			storage.ErrDimensionMismatch, len(vector), idx.config.VectorSize)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	var hits []*qdrant.ScoredPoint
	err := idx.do(ctx, func(ctx context.Context) error {
		var err error
		hits, err = idx.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: idx.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(n)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]*core.ScoredVector, len(hits))
	for i, hit := range hits {
		meta, document := fromPayload(hit.GetPayload())
		results[i] = &core.ScoredVector{
			Vector: &core.StoredVector{
				Id:       core.ID(hit.GetId().GetNum()),
				Document: document,
				Metadata: meta,
			},
			Score: hit.GetScore(),
		}
	}
	return results, nil
}

// Upsert writes vectors as numeric-ID points, waiting for the write to apply.
func (idx *Index) Upsert(ctx context.Context, vectors ...*core.StoredVector) error {
	if len(vectors) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		if len(v.Embedding) != idx.config.VectorSize {
			return fmt.Errorf("%w: vector %d has %d dimensions, collection %d",
				storage.ErrDimensionMismatch, v.Id, len(v.Embedding), idx.config.VectorSize)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(v.Id)),
			Vectors: qdrant.NewVectors(v.Embedding...),
			Payload: toPayload(v),
		}
	}

	if err := idx.ensureCollection(ctx); err != nil {
		return err
	}
	return idx.do(ctx, func(ctx context.Context) error {
		_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: idx.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

// Close closes the gRPC connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}

// do retries transient gRPC failures.
func (idx *Index) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, idx.config.Retry, op, classify, nil)
}

// classify backs off on transient gRPC status codes.
func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return retry.Backoff
	default:
		return retry.Stop
	}
}

func toPayload(v *core.StoredVector) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(v.Metadata)+1)
	for k, val := range v.Metadata {
		payload[k] = stringValue(val)
	}
	payload[documentKey] = stringValue(v.Document)
	return payload
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// fromPayload splits a point payload into metadata and document text.
// Non-string values are skipped.
func fromPayload(payload map[string]*qdrant.Value) (core.Metadata, string) {
	meta := make(core.Metadata, len(payload))
	document := ""
	for k, v := range payload {
		s, ok := v.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		if k == documentKey {
			document = s.StringValue
			continue
		}
		meta[k] = s.StringValue
	}
	return meta, document
}
