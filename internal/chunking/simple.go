package chunking

import (
	"strings"
)

// SplitFixed is the plainest strategy: a window of chunkSize runes slides
// through the text, stepping chunkSize-overlapSize runes each time so
// consecutive chunks share their boundary region. Windows that trim to
// nothing are dropped.
func SplitFixed(text string, chunkSize, overlapSize int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{strings.TrimSpace(text)}
	}

	step := chunkSize - overlapSize
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
