package chunking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
)

func newTestLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func TestRunnerReportsSemanticWhenItWorks(t *testing.T) {
	embedder := embedFunc(func(ctx context.Context, inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range out {
			out[i] = []float32{1, 0}
		}
		return out, nil
	})
	r := NewRunner(NewSemanticSplitter(embedder), newTestLogger())

	res, err := r.Chunk(context.Background(), threeSentences, Options{Method: MethodSemantic, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if res.MethodUsed != MethodSemantic {
		t.Fatalf("MethodUsed = %s, want semantic", res.MethodUsed)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("no chunks")
	}
}

func TestRunnerDegradesToSentenceWhenEmbedderFails(t *testing.T) {
	embedder := embedFunc(func(ctx context.Context, inputs []string) ([][]float32, error) {
		return nil, errors.New("embeddings endpoint down")
	})
	r := NewRunner(NewSemanticSplitter(embedder), newTestLogger())

	res, err := r.Chunk(context.Background(), threeSentences, Options{Method: MethodSemantic, ChunkSize: 40})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if res.MethodUsed != MethodSentence {
		t.Fatalf("MethodUsed = %s, want sentence degradation", res.MethodUsed)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(res.Chunks))
	}
}

func TestRunnerDegradesWhenSemanticNotConfigured(t *testing.T) {
	r := NewRunner(nil, newTestLogger())

	res, err := r.Chunk(context.Background(), threeSentences, Options{Method: MethodSemantic, ChunkSize: 40})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if res.MethodUsed != MethodSentence {
		t.Fatalf("MethodUsed = %s, want sentence", res.MethodUsed)
	}
}

func TestRunnerHonorsExplicitSimple(t *testing.T) {
	r := NewRunner(nil, newTestLogger())

	res, err := r.Chunk(context.Background(), "line one\nline two", Options{Method: MethodSimple, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if res.MethodUsed != MethodSimple {
		t.Fatalf("MethodUsed = %s, want simple", res.MethodUsed)
	}
}

func TestRunnerCanceledContextDoesNotDegrade(t *testing.T) {
	embedder := embedFunc(func(ctx context.Context, inputs []string) ([][]float32, error) {
		return nil, ctx.Err()
	})
	r := NewRunner(NewSemanticSplitter(embedder), newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Chunk(ctx, threeSentences, Options{Method: MethodSemantic, ChunkSize: 40}); err == nil {
		t.Fatal("expected error for canceled context, not a degraded result")
	}
}

func TestRunnerValidatesOptions(t *testing.T) {
	r := NewRunner(nil, newTestLogger())
	ctx := context.Background()

	cases := []struct {
		name string
		text string
		opts Options
	}{
		{"empty text", "   ", Options{Method: MethodSimple, ChunkSize: 10}},
		{"zero chunk size", "text", Options{Method: MethodSimple, ChunkSize: 0}},
		{"negative overlap", "text", Options{Method: MethodSimple, ChunkSize: 10, OverlapSize: -1}},
		{"overlap not smaller than chunk", "text", Options{Method: MethodSentence, ChunkSize: 10, OverlapSize: 10}},
		{"unknown method", "text", Options{Method: "fancy", ChunkSize: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Chunk(ctx, tc.text, tc.opts); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	if m, ok := ParseMethod("  Semantic "); !ok || m != MethodSemantic {
		t.Fatalf("ParseMethod = %v %v", m, ok)
	}
	if m, ok := ParseMethod("SENTENCE"); !ok || m != MethodSentence {
		t.Fatalf("ParseMethod = %v %v", m, ok)
	}
	if _, ok := ParseMethod("recursive"); ok {
		t.Fatal("unknown method accepted")
	}
}

func TestComputeStats(t *testing.T) {
	res := Result{Chunks: []string{"ab", "abcd"}, MethodUsed: MethodSentence}
	st := ComputeStats(res)
	if st.TotalChunks != 2 || st.MinChunkSize != 2 || st.MaxChunkSize != 4 || st.TotalRunes != 6 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AvgChunkSize != 3 {
		t.Fatalf("avg = %v, want 3", st.AvgChunkSize)
	}
	if !strings.EqualFold(string(st.MethodUsed), "sentence") {
		t.Fatalf("method = %s", st.MethodUsed)
	}

	empty := ComputeStats(Result{})
	if empty.TotalChunks != 0 || empty.MinChunkSize != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}
