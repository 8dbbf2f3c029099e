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

// Package storage defines the vector index abstraction used by baler.
//
// A VectorIndex holds core.StoredVector values keyed by their content-derived
// core.ID. Writing the same chunk twice overwrites the earlier copy, which is
// what makes ingestion re-runs idempotent.
//
// # Backends
//
//   - storage/badger: embedded BadgerDB database with brute-force cosine search
//   - storage/qdrant: remote Qdrant collection over gRPC
//
// Public constructors in backend packages return the storage.VectorIndex
// interface; internal constructors may return concrete types.
//
// # Usage
//
//	index, err := badger.NewIndex("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer index.Close()
//
// Use in tests with in-memory storage:
//
//	index, err := badger.NewMemoryIndex()
//
// # Encoding
//
// The badger backend stores vectors with the mus-go codec in this package
// (MarshalStoredVector / UnmarshalStoredVector).
package storage
