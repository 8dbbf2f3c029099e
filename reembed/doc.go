// Package reembed rewrites stored vectors with the current embedder.
//
// Every stored chunk can be rebuilt from its metadata, so the index never
// needs the original review file to be re-embedded. The same pass can copy
// an index into another backend: read from one adapter, write to another.
// Chunk IDs depend only on the review URL and the chunk text, so running it
// twice leaves the target unchanged.
package reembed
