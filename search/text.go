package search

import (
	"slices"
	"strings"

	"github.com/poiesic/baler/core"
)

// Stop words ignored when checking for verbatim matches
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "me": true, "some": true, "like": true, "i": true,
	"want": true, "something": true, "music": true, "album": true, "albums": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// mentionsAll reports whether every query word appears in the excerpt
// text or among its tags.
func mentionsAll(excerpt core.Metadata, queryWords []string) bool {
	if len(queryWords) == 0 {
		return false
	}

	words := tokenizeAndFilter(excerpt[core.MetaTextChunk])
	for _, tag := range excerpt.Tags() {
		words = append(words, tokenizeAndFilter(tag)...)
	}
	set := make(map[string]bool, len(words))
	for _, word := range words {
		set[word] = true
	}

	for _, w := range queryWords {
		if !set[w] {
			return false
		}
	}
	return true
}

// rerank moves excerpts mentioning every query word to the front, keeping
// similarity order within both groups.
func rerank(excerpts []core.Metadata, query string) []core.Metadata {
	queryWords := tokenizeAndFilter(query)
	out := slices.Clone(excerpts)
	slices.SortStableFunc(out, func(a, b core.Metadata) int {
		ma, mb := mentionsAll(a, queryWords), mentionsAll(b, queryWords)
		switch {
		case ma && !mb:
			return -1
		case mb && !ma:
			return 1
		default:
			return 0
		}
	})
	return out
}
