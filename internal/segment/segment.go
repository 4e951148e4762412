package segment

import (
	"regexp"
	"strings"
)

// Chunk is a bounded slice of source text prepared for one synthesis call.
// Index is 1-based and preserved through the whole pipeline.
type Chunk struct {
	Index int
	Text  string
}

// License and copyright boilerplate paragraphs bloat narration without
// adding content, so they are dropped before packing.
var boilerplate = regexp.MustCompile(`(?i)creative\s+commons|to\s+view\s+a\s+copy\s+of\s+this\s+licen|permission\s+directly\s+from\s+the\s+copyright|third\s+party\s+material`)

// Split breaks text into ordered chunks under maxChars. Text already within
// budget comes back as a single chunk. Paragraphs are packed greedily and a
// paragraph longer than the budget becomes its own oversized chunk rather
// than being cut mid-sentence.
func Split(text string, maxChars int) []Chunk {
	if len(text) <= maxChars {
		return []Chunk{{Index: 1, Text: text}}
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if boilerplate.MatchString(p) {
			continue
		}
		paragraphs = append(paragraphs, p)
	}

	var packed []string
	cur := ""
	for _, p := range paragraphs {
		switch {
		case cur != "" && len(cur)+len(p)+2 > maxChars:
			packed = append(packed, cur)
			cur = p
		case cur != "":
			cur = strings.TrimSpace(cur + "\n\n" + p)
		default:
			cur = p
		}
	}
	if cur != "" {
		packed = append(packed, cur)
	}

	chunks := make([]Chunk, 0, len(packed))
	for i, text := range packed {
		chunks = append(chunks, Chunk{Index: i + 1, Text: text})
	}
	return chunks
}
