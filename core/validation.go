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
	"fmt"
	"strings"
)

// ValidateRecord validates a RawRecord according to domain rules.
//
// Validation rules:
//   - ReviewURL must not be empty
//   - ReviewText must not be empty
//   - Artist must be known (see HasValidArtist)
//
// NOT validated (replaced by MissingValue at storage time):
//   - AlbumTitle, Score, Author, ReleaseYear, CoverURL
func ValidateRecord(record *RawRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if strings.TrimSpace(record.ReviewURL) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrMissingReviewURL)
	}

	if strings.TrimSpace(record.ReviewText) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrMissingReviewText)
	}

	if !HasValidArtist(record) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRecord, ErrInvalidArtist, record.Artist)
	}

	return nil
}

// HasValidArtist reports whether the record names a known artist.
func HasValidArtist(record *RawRecord) bool {
	artist := strings.TrimSpace(record.Artist)
	return artist != "" && artist != InvalidArtist
}
