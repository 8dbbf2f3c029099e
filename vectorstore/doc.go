// Package vectorstore adapts a storage.VectorIndex and an ai.Embedder into
// the operations the ingestion pipeline and search need.
//
// Upsert derives each vector's ID from the review URL and chunk text, so
// writing the same chunk again replaces it instead of adding a duplicate.
// Work is split into sub-batches; a failing sub-batch is logged and skipped
// while the rest of the batch is still written.
//
// Search emulates offset paging on top of a top-N similarity query by
// asking for offset+topK hits and slicing the result.
//
// ProcessedURLs pages through every stored record to build the set of
// reviews that need no further processing.
package vectorstore
