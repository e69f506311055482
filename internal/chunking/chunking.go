// Package chunking splits asset text into retrieval-sized pieces. Callers
// ask for a strategy and get told which one actually ran: semantic chunking
// needs a working embedder and degrades to sentence grouping, which in turn
// degrades to fixed rune windows.
package chunking

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
)

type Method string

const (
	MethodSemantic Method = "semantic"
	MethodSentence Method = "sentence"
	MethodSimple   Method = "simple"
)

// ParseMethod normalizes a client-supplied method name.
func ParseMethod(s string) (Method, bool) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodSemantic:
		return MethodSemantic, true
	case MethodSentence:
		return MethodSentence, true
	case MethodSimple:
		return MethodSimple, true
	default:
		return "", false
	}
}

// Options carries the requested strategy and sizing. Sizes are measured in
// runes so multi-byte text never splits inside a character.
type Options struct {
	Method      Method
	ChunkSize   int
	OverlapSize int
}

type Result struct {
	Chunks     []string
	MethodUsed Method
}

// Runner tries the requested method and walks the degradation chain until
// one produces chunks.
type Runner struct {
	semantic *SemanticSplitter
	log      *logger.Logger
}

// NewRunner builds a runner. semantic may be nil; requests for semantic
// chunking then go straight to sentence grouping.
func NewRunner(semantic *SemanticSplitter, log *logger.Logger) *Runner {
	return &Runner{semantic: semantic, log: log}
}

func (r *Runner) Chunk(ctx context.Context, text string, opts Options) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("text is empty")
	}
	if opts.ChunkSize <= 0 {
		return Result{}, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.OverlapSize < 0 {
		return Result{}, fmt.Errorf("overlap size must not be negative, got %d", opts.OverlapSize)
	}
	if opts.OverlapSize >= opts.ChunkSize {
		return Result{}, fmt.Errorf("overlap size %d must be smaller than chunk size %d", opts.OverlapSize, opts.ChunkSize)
	}

	order, ok := fallbackOrder(opts.Method)
	if !ok {
		return Result{}, fmt.Errorf("unknown chunking method %q", opts.Method)
	}

	for _, m := range order {
		var chunks []string
		var err error
		switch m {
		case MethodSemantic:
			if r.semantic == nil {
				r.log.Debug("semantic chunker not configured, trying next method")
				continue
			}
			chunks, err = r.semantic.Chunk(ctx, text, opts.ChunkSize)
		case MethodSentence:
			chunks = SplitBySentences(text, opts.ChunkSize, opts.OverlapSize)
		case MethodSimple:
			chunks = SplitFixed(text, opts.ChunkSize, opts.OverlapSize)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, err
			}
			r.log.Warn("chunking method failed, trying next",
				"method", string(m),
				"error", err.Error(),
			)
			continue
		}
		if len(chunks) == 0 {
			continue
		}
		if m != opts.Method {
			r.log.Info("chunking degraded",
				"requested", string(opts.Method),
				"used", string(m),
			)
		}
		return Result{Chunks: chunks, MethodUsed: m}, nil
	}
	return Result{}, fmt.Errorf("no chunking method produced output")
}

func fallbackOrder(m Method) ([]Method, bool) {
	switch m {
	case MethodSemantic:
		return []Method{MethodSemantic, MethodSentence, MethodSimple}, true
	case MethodSentence:
		return []Method{MethodSentence, MethodSimple}, true
	case MethodSimple:
		return []Method{MethodSimple}, true
	default:
		return nil, false
	}
}

// Stats summarizes a chunking result for logs and process responses.
type Stats struct {
	TotalChunks  int     `json:"total_chunks"`
	AvgChunkSize float64 `json:"avg_chunk_size"`
	MinChunkSize int     `json:"min_chunk_size"`
	MaxChunkSize int     `json:"max_chunk_size"`
	TotalRunes   int     `json:"total_runes"`
	MethodUsed   Method  `json:"method_used"`
}

func ComputeStats(res Result) Stats {
	st := Stats{TotalChunks: len(res.Chunks), MethodUsed: res.MethodUsed}
	if len(res.Chunks) == 0 {
		return st
	}
	st.MinChunkSize = utf8.RuneCountInString(res.Chunks[0])
	for _, c := range res.Chunks {
		n := utf8.RuneCountInString(c)
		st.TotalRunes += n
		if n < st.MinChunkSize {
			st.MinChunkSize = n
		}
		if n > st.MaxChunkSize {
			st.MaxChunkSize = n
		}
	}
	st.AvgChunkSize = float64(st.TotalRunes) / float64(st.TotalChunks)
	return st
}
