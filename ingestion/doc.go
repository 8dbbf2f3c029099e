// Package ingestion turns a file of scraped reviews into tagged vectors.
//
// A run loads NDJSON records, drops invalid ones, keeps the last copy of
// each review URL and skips reviews the store already holds. The remaining
// reviews are processed in small batches: each review is split into
// overlapping sentence windows, every window is tagged concurrently on a
// worker pool, and the tagged windows of a batch are written in one upsert.
//
// Only fatal errors stop a run. Bad lines, invalid records, untagged chunks
// and failed store sub-batches are logged, counted in the Report, and the
// run continues. Re-running on the same input is safe: chunk IDs are
// derived from content, and processed reviews are skipped.
package ingestion
