package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentenceRe captures sentence units with their terminators attached, plus
// any trailing fragment without one.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// SplitSentences returns the trimmed sentence units of text. Text with no
// terminator at all comes back as one sentence.
func SplitSentences(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitBySentences groups whole sentences into chunks, counting the joining
// spaces in runes. Sentences accumulate until the chunk would pass ninety
// percent of chunkSize, then it closes; the remaining tenth is headroom for
// the overlap seed. A sentence longer than chunkSize becomes its own chunk
// rather than being cut mid-sentence. When a chunk closes, its final
// sentence seeds the next chunk if it fits inside overlapSize, carrying
// context across the boundary.
func SplitBySentences(text string, chunkSize, overlapSize int) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	budget := chunkSize - chunkSize/10

	var chunks []string
	var current []string
	currentLen := 0

	for _, s := range sentences {
		sLen := utf8.RuneCountInString(s)
		if currentLen > 0 && currentLen+1+sLen > budget {
			prev := current[len(current)-1]
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			currentLen = 0
			if overlapSize > 0 {
				if l := utf8.RuneCountInString(prev); l <= overlapSize && l+1+sLen <= chunkSize {
					current = append(current, prev)
					currentLen = l
				}
			}
		}
		if currentLen == 0 {
			current = append(current, s)
			currentLen = sLen
		} else {
			current = append(current, s)
			currentLen += 1 + sLen
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
