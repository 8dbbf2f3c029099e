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

package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidRecord indicates a RawRecord failed validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidArtist indicates the artist is missing or the unknown-artist marker.
	ErrInvalidArtist = errors.New("invalid artist")

	// ErrMissingReviewURL indicates the review_url field is empty.
	ErrMissingReviewURL = errors.New("review url cannot be empty")

	// ErrMissingReviewText indicates the review_text field is empty.
	ErrMissingReviewText = errors.New("review text cannot be empty")

	// ErrInvalidChunkParams indicates chunk size and overlap do not yield a positive stride.
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
)

// Kind classifies a failure by how far it is allowed to propagate.
type Kind int

const (
	// KindFatal aborts the run.
	KindFatal Kind = iota
	// KindRecordSkip drops one input record.
	KindRecordSkip
	// KindChunkSkip drops one chunk from a batch.
	KindChunkSkip
	// KindBatchSkip drops one store sub-batch.
	KindBatchSkip
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRecordSkip:
		return "record-skip"
	case KindChunkSkip:
		return "chunk-skip"
	case KindBatchSkip:
		return "batch-skip"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error carries a failure kind along with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf wraps err with a kind and operation name.
func Errorf(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Errors without an explicit kind are fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
