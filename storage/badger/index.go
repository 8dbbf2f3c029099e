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

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/storage"
)

// Index implements storage.VectorIndex on an embedded BadgerDB.
// Queries scan every stored vector.
type Index struct {
	backend *Backend
	owned   bool
	logger  *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

// newIndex is an internal constructor that returns the concrete type.
func newIndex(backend *Backend, owned bool) *Index {
	return &Index{
		backend: backend,
		owned:   owned,
		logger:  slog.Default().With("component", "badger-index"),
	}
}

// NewIndex opens (or creates) a persistent index in the directory at path.
//
// Returns storage.VectorIndex interface to enforce abstraction.
func NewIndex(path string) (storage.VectorIndex, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newIndex(backend, true), nil
}

// NewIndexWithBackend creates an index over an already open backend.
// Closing the index leaves the backend open.
func NewIndexWithBackend(backend *Backend) storage.VectorIndex {
	return newIndex(backend, false)
}

// Ping reports ErrStorageClosed once the database has been closed.
func (idx *Index) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// Count returns the number of stored vectors.
func (idx *Index) Count(ctx context.Context) (int, error) {
	if err := idx.Ping(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = vectorKeyPrefix()
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Page returns the metadata of up to limit vectors in key order, skipping offset.
func (idx *Index) Page(ctx context.Context, offset, limit int) ([]core.Metadata, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset=%d limit=%d", storage.ErrInvalidQuery, offset, limit)
	}
	if err := idx.Ping(ctx); err != nil {
		return nil, err
	}

	page := make([]core.Metadata, 0, limit)
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = vectorKeyPrefix()
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		skipped := 0
		for iter.Rewind(); iter.Valid() && len(page) < limit; iter.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			vector, err := readVector(iter.Item())
			if err != nil {
				return err
			}
			page = append(page, vector.Metadata)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Query returns the n stored vectors most similar to vector.
func (idx *Index) Query(ctx context.Context, vector []float32, n int) ([]*core.ScoredVector, error) {
	if n <= 0 || len(vector) == 0 {
		return nil, fmt.Errorf("%w: n=%d dims=%d", storage.ErrInvalidQuery, n, len(vector))
	}
	if err := idx.Ping(ctx); err != nil {
		return nil, err
	}

	var results []*core.ScoredVector
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = vectorKeyPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stored, err := readVector(iter.Item())
			if err != nil {
				return err
			}
			if len(stored.Embedding) != len(vector) {
				return fmt.Errorf("%w: query has %d dimensions, vector %d has %d",
					storage.ErrDimensionMismatch, len(vector), stored.Id, len(stored.Embedding))
			}
			results = append(results, &core.ScoredVector{
				Vector: stored,
				Score:  cosine(vector, stored.Embedding),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, ID ascending for ties
	slices.SortFunc(results, func(a, b *core.ScoredVector) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Vector.Id < b.Vector.Id:
			return -1
		case a.Vector.Id > b.Vector.Id:
			return 1
		}
		return 0
	})

	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Upsert writes vectors, overwriting any with the same ID.
func (idx *Index) Upsert(ctx context.Context, vectors ...*core.StoredVector) error {
	if err := idx.Ping(ctx); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	wb := idx.backend.WriteBatch()
	defer wb.Cancel()

	for _, v := range vectors {
		if err := wb.Set(makeVectorKey(v.Id), storage.MarshalStoredVector(v)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	idx.logger.Debug("upserted vectors", "count", len(vectors))
	return nil
}

// Get returns the vector stored under id.
func (idx *Index) Get(ctx context.Context, id core.ID) (*core.StoredVector, error) {
	if err := idx.Ping(ctx); err != nil {
		return nil, err
	}

	var vector *core.StoredVector
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVectorKey(id))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		vector, err = readVector(item)
		return err
	}, false)
	return vector, err
}

// Close closes the underlying database if the index opened it.
func (idx *Index) Close() error {
	if !idx.owned || idx.backend.IsClosed() {
		return nil
	}
	return idx.backend.Close()
}

func readVector(item *badger.Item) (*core.StoredVector, error) {
	var vector *core.StoredVector
	err := item.Value(func(val []byte) error {
		var err error
		vector, err = storage.UnmarshalStoredVector(val)
		return err
	})
	return vector, err
}
