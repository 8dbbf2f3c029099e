// Package metrics exposes Prometheus collectors for the ingestion pipeline,
// the tagging backends and the vector store.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "baler"

var (
	// RecordsTotal counts input records by outcome.
	// Labels: outcome (loaded, invalid, skipped, duplicate, already_processed, processed)
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "records_total",
			Help:      "Input records by outcome",
		},
		[]string{"outcome"},
	)

	// ChunksTotal counts chunks by tagging outcome.
	// Labels: outcome (tagged, dropped)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Review chunks by tagging outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration observes how long each record batch takes end to end.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one ingestion batch in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// VectorsUpserted counts vectors written to the store.
	VectorsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "vectors_upserted_total",
			Help:      "Vectors written to the vector store",
		},
	)

	// FailedSubBatches counts upsert sub-batches skipped after an embed or write failure.
	// Labels: stage (embed, write)
	FailedSubBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "failed_sub_batches_total",
			Help:      "Upsert sub-batches skipped after a failure",
		},
		[]string{"stage"},
	)

	// SearchRequests counts similarity searches.
	// Labels: result (success, error)
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "search_requests_total",
			Help:      "Similarity searches by result",
		},
		[]string{"result"},
	)
)

// Result returns the label value for err.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
