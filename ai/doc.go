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

// Package ai provides abstractions for the AI services used by baler.
//
// The package is designed around three interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - Tagger: Tags review excerpts and streams recommendations
//   - Provider: Aggregates both for initialization and lifecycle
//
// Backends form a closed set chosen once through Config:
//
//   - ai/gemini: Gemini REST API (ProviderGemini)
//   - ai/openai: OpenAI-compatible chat and embedding APIs (ProviderOpenAI, EmbedderOpenAI)
//   - ai/fastembed: local ONNX embeddings (EmbedderFastEmbed)
//   - ai/mock: test doubles
//
// Shared behavior lives here so every backend agrees on it: ParseTags pulls a
// tag list out of noisy model output, Classify maps failures to retry
// actions, and the prompt helpers render the tagging and critic prompts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithProvider(ai.ProviderOpenAI))
//	tagger, err := openai.NewTagger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tags := tagger.GenerateTags(ctx, "Guitars shimmer over a slow, hazy pulse.")
package ai
