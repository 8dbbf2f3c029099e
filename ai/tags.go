package ai

import (
	"encoding/json"
	"strings"
)

// ParseTags extracts the tag list embedded in a model response.
//
// The response may carry code fences or surrounding prose. The first
// balanced JSON array of strings wins. With TagFormatCSV, a response without
// such an array falls back to its first comma-separated line. Anything else
// yields an empty slice. Tags are trimmed and empty entries dropped.
func ParseTags(response string, format TagFormat) []string {
	text := stripFences(response)

	if tags, ok := findJSONArray(text); ok {
		return cleanTags(tags)
	}

	if format == TagFormatCSV {
		for _, line := range strings.Split(text, "\n") {
			if strings.Contains(line, ",") {
				return cleanTags(strings.Split(line, ","))
			}
		}
	}

	return []string{}
}

// stripFences removes markdown code fence markers, keeping their contents.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// findJSONArray scans for '[' positions and returns the first one that opens
// a balanced region decoding to a string array.
func findJSONArray(s string) ([]string, bool) {
	for start := strings.IndexByte(s, '['); start >= 0; {
		if end := matchBracket(s, start); end > start {
			var tags []string
			if err := json.Unmarshal([]byte(s[start:end+1]), &tags); err == nil {
				return tags, true
			}
		}
		next := strings.IndexByte(s[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBracket returns the index of the ']' closing the '[' at open,
// skipping brackets inside JSON strings, or -1.
func matchBracket(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func cleanTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.Trim(strings.TrimSpace(tag), `"'`)
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
