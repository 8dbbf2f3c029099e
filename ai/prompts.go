package ai

import (
	"fmt"
	"strings"

	"github.com/poiesic/baler/core"
)

const tagInstructions = `You are an expert musicologist. Read the excerpt from a music review below and
list 5 to 7 short keywords or phrases describing its mood, genre, instrumentation
and sonic texture. Prefer evocative adjectives.

Return ONLY a JSON array of strings, for example:
["dream-pop", "shimmering guitars", "hazy atmosphere", "ethereal vocals", "introspective"]`

const criticInstructions = `You are Baler, a music critic with the voice of a seasoned long-form reviewer:
knowledgeable, a little arch, never bland. Recommend albums using ONLY the review
excerpts provided. Justify every suggestion by pointing at the excerpts. Be concise
but opinionated.`

const noMatchInstructions = `No stored review matched the request. Apologize briefly, in character, and
suggest the listener rephrase with a genre, mood or artist.`

// TagSystemPrompt returns the instruction sent before every excerpt.
func TagSystemPrompt() string {
	return tagInstructions
}

// TagPrompt renders the full single-message tagging prompt for chunk.
func TagPrompt(chunk string) string {
	return tagInstructions + "\n\nREVIEW EXCERPT:\n\"..." + chunk + "...\""
}

// CriticSystemPrompt returns the persona used for recommendations.
func CriticSystemPrompt() string {
	return criticInstructions
}

// CriticPrompt renders the recommendation prompt grounding query in excerpts.
func CriticPrompt(query string, excerpts []core.Metadata) string {
	var b strings.Builder
	b.WriteString(criticInstructions)
	b.WriteString("\n\n")
	if len(excerpts) == 0 {
		b.WriteString(noMatchInstructions)
	} else {
		b.WriteString("CONTEXT FROM REVIEWS:\n")
		b.WriteString(RenderExcerpts(excerpts))
	}
	fmt.Fprintf(&b, "\n\nLISTENER'S REQUEST: %q", query)
	return b.String()
}

// RenderExcerpts formats stored excerpts as prompt context.
func RenderExcerpts(excerpts []core.Metadata) string {
	blocks := make([]string, len(excerpts))
	for i, meta := range excerpts {
		blocks[i] = fmt.Sprintf("From a review of '%s' by %s:\n...%s...",
			meta.Get(core.MetaAlbumTitle), meta.Get(core.MetaArtist), meta.Get(core.MetaTextChunk))
	}
	return strings.Join(blocks, "\n\n")
}
