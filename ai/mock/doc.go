// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Tagger,
// and ai.Provider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	tags := mockProvider.Tagger().GenerateTags(ctx, "Hazy guitars drift.")
//
//	// Custom behavior injection
//	tagger := mock.NewMockTagger()
//	tagger.GenerateTagsFunc = func(ctx context.Context, chunk string) []string {
//	    return nil // simulate a chunk the model could not tag
//	}
//
//	// Check call counts
//	count := tagger.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockTagger: Tags a chunk with its first five words; streams an echo
//   - MockProvider: Aggregates mock embedder and tagger
//
// Both mocks are safe for concurrent use.
package mock
