package chunking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Embedder is the slice of the model client semantic chunking needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// SemanticSplitter groups sentences at the points where meaning shifts
// hardest. Each sentence is embedded together with bufferSize neighbors on
// each side to smooth single-sentence noise; a boundary is drawn wherever
// the cosine distance between consecutive windows exceeds the given
// percentile of all such distances.
type SemanticSplitter struct {
	embedder   Embedder
	percentile float64
	bufferSize int
}

func NewSemanticSplitter(embedder Embedder) *SemanticSplitter {
	return &SemanticSplitter{embedder: embedder, percentile: 95, bufferSize: 1}
}

// Chunk splits text at its strongest meaning shifts, then normalizes the
// segment sizes: segments under a tenth of maxSize merge into a neighbor,
// and segments over maxSize are re-split on sentence boundaries (fixed
// windows for a single runaway sentence) so every chunk fits maxSize runes.
func (s *SemanticSplitter) Chunk(ctx context.Context, text string, maxSize int) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return enforceSizes(sentences, maxSize), nil
	}

	windows := buildWindows(sentences, s.bufferSize)
	embeddings, err := s.embedder.Embed(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("embed sentence windows: %w", err)
	}
	if len(embeddings) != len(windows) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d windows", len(embeddings), len(windows))
	}

	distances := make([]float64, len(embeddings)-1)
	for i := 0; i < len(embeddings)-1; i++ {
		distances[i] = 1 - cosineSimilarity(embeddings[i], embeddings[i+1])
	}
	threshold := percentile(distances, s.percentile)

	var segments []string
	start := 0
	for i, d := range distances {
		if d > threshold {
			segments = append(segments, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	segments = append(segments, strings.Join(sentences[start:], " "))
	return enforceSizes(segments, maxSize), nil
}

// enforceSizes folds segments shorter than maxSize/10 into the following
// segment (the previous one for the last), then cuts any segment that
// still exceeds maxSize.
func enforceSizes(segments []string, maxSize int) []string {
	if maxSize <= 0 {
		return segments
	}
	minSize := maxSize / 10

	merged := make([]string, 0, len(segments))
	carry := ""
	for i, seg := range segments {
		if carry != "" {
			seg = carry + " " + seg
			carry = ""
		}
		if utf8.RuneCountInString(seg) < minSize && i < len(segments)-1 {
			carry = seg
			continue
		}
		merged = append(merged, seg)
	}
	if carry != "" {
		if len(merged) > 0 {
			merged[len(merged)-1] += " " + carry
		} else {
			merged = append(merged, carry)
		}
	}

	var out []string
	for _, seg := range merged {
		if utf8.RuneCountInString(seg) <= maxSize {
			out = append(out, seg)
			continue
		}
		for _, piece := range SplitBySentences(seg, maxSize, 0) {
			if utf8.RuneCountInString(piece) <= maxSize {
				out = append(out, piece)
			} else {
				out = append(out, SplitFixed(piece, maxSize, 0)...)
			}
		}
	}
	return out
}

func buildWindows(sentences []string, buffer int) []string {
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := i - buffer
		if lo < 0 {
			lo = 0
		}
		hi := i + buffer + 1
		if hi > len(sentences) {
			hi = len(sentences)
		}
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
