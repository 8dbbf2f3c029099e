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

package storage

import (
	"fmt"
	"slices"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/baler/core"
)

// maxLength bounds decoded slice and map lengths so corrupt input cannot
// trigger huge allocations.
const maxLength = 1 << 24

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := varint.Uint64.Unmarshal(data)
	return core.ID(id), err
}

// MarshalStoredVector serializes a StoredVector to bytes. Metadata keys are
// written in sorted order so equal vectors encode identically.
func MarshalStoredVector(v *core.StoredVector) []byte {
	keys := sortedKeys(v.Metadata)
	buf := make([]byte, storedVectorSize(v, keys))
	n := varint.Uint64.Marshal(uint64(v.Id), buf)
	n += varint.Uint64.Marshal(uint64(len(v.Embedding)), buf[n:])
	for _, f := range v.Embedding {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	n += ord.String.Marshal(v.Document, buf[n:])
	n += varint.Uint64.Marshal(uint64(len(keys)), buf[n:])
	for _, k := range keys {
		n += ord.String.Marshal(k, buf[n:])
		n += ord.String.Marshal(v.Metadata[k], buf[n:])
	}
	return buf[:n]
}

// UnmarshalStoredVector deserializes a StoredVector from bytes.
func UnmarshalStoredVector(data []byte) (*core.StoredVector, error) {
	var (
		v   core.StoredVector
		off int
	)

	id, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", ErrSerializationFailed, err)
	}
	v.Id = core.ID(id)
	off += n

	dims, n, err := varint.Uint64.Unmarshal(data[off:])
	if err != nil {
		return nil, fmt.Errorf("%w: embedding length: %w", ErrSerializationFailed, err)
	}
	off += n
	if dims > maxLength || int(dims)*4 > len(data)-off {
		return nil, fmt.Errorf("%w: embedding of %d floats", ErrTruncatedData, dims)
	}
	v.Embedding = make([]float32, dims)
	for i := range v.Embedding {
		f, n, err := raw.Float32.Unmarshal(data[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: embedding: %w", ErrSerializationFailed, err)
		}
		v.Embedding[i] = f
		off += n
	}

	v.Document, n, err = ord.String.Unmarshal(data[off:])
	if err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, err)
	}
	off += n

	entries, n, err := varint.Uint64.Unmarshal(data[off:])
	if err != nil {
		return nil, fmt.Errorf("%w: metadata length: %w", ErrSerializationFailed, err)
	}
	off += n
	if entries > maxLength {
		return nil, fmt.Errorf("%w: %d metadata entries", ErrTruncatedData, entries)
	}
	v.Metadata = make(core.Metadata, entries)
	for range entries {
		key, n, err := ord.String.Unmarshal(data[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: metadata key: %w", ErrSerializationFailed, err)
		}
		off += n
		value, n, err := ord.String.Unmarshal(data[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %q: %w", ErrSerializationFailed, key, err)
		}
		off += n
		v.Metadata[key] = value
	}

	return &v, nil
}

func storedVectorSize(v *core.StoredVector, keys []string) int {
	size := varint.Uint64.Size(uint64(v.Id))
	size += varint.Uint64.Size(uint64(len(v.Embedding)))
	for _, f := range v.Embedding {
		size += raw.Float32.Size(f)
	}
	size += ord.String.Size(v.Document)
	size += varint.Uint64.Size(uint64(len(keys)))
	for _, k := range keys {
		size += ord.String.Size(k) + ord.String.Size(v.Metadata[k])
	}
	return size
}

func sortedKeys(m core.Metadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
