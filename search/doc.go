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

// Package search answers free-text music requests from the review index.
//
// A Recommender retrieves the stored excerpts closest to the query, moves
// excerpts that mention every query word to the front, and asks the
// language model for an answer grounded only in those excerpts. The answer
// is a stream of ai.StreamEvent values: text chunks followed by a single
// sources trailer. When nothing matches, the stream holds a fixed apology
// and an empty sources list.
//
// WriteNDJSON renders a stream as newline-delimited JSON, one event per line.
package search
