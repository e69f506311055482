package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

var testProjectID = uuid.MustParse("5b0a2f6d-9f5e-4f2a-8c3d-1e2f3a4b5c6d")

func newTestLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func newTestStore(fn roundTripFunc) *Store {
	return &Store{
		cfg: Config{
			BaseURL:     "http://qdrant.test",
			VectorDim:   3,
			Timeout:     2 * time.Second,
			MaxRetries:  0,
			DistanceKey: "Cosine",
		},
		http: &http.Client{Transport: fn},
		log:  newTestLogger(),
	}
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func errResponse(status int, message string) *http.Response {
	body, _ := json.Marshal(map[string]any{"status": map[string]string{"error": message}, "time": 0.001})
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testVector(id string, seq int) vectorindex.Vector {
	return vectorindex.Vector{
		ID:     id,
		Values: []float32{0.1, 0.2, 0.3},
		Payload: vectorindex.Payload{
			ProjectID: testProjectID.String(),
			AssetID:   "11111111-1111-1111-1111-111111111111",
			ChunkID:   id,
			Sequence:  seq,
			Text:      "chunk text",
		},
	}
}

func TestUpsertSplitsIntoBatches(t *testing.T) {
	var paths []string
	var batchSizes []int
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("upsert not waiting for persistence: %s", r.URL.RawQuery)
		}
		var req upsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode upsert body: %v", err)
		}
		batchSizes = append(batchSizes, len(req.Points))
		return okResponse(t, map[string]any{"operation_id": 1, "status": "completed"}), nil
	})

	vectors := make([]vectorindex.Vector, 0, 120)
	for i := 0; i < 120; i++ {
		vectors = append(vectors, testVector(uuid.New().String(), i))
	}
	if err := store.Upsert(context.Background(), testProjectID, vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if len(paths) != 3 {
		t.Fatalf("got %d requests, want 3", len(paths))
	}
	wantPath := "/collections/" + vectorindex.CollectionName(3, testProjectID) + "/points"
	for _, p := range paths {
		if p != wantPath {
			t.Fatalf("request path %q, want %q", p, wantPath)
		}
	}
	for i, want := range []int{50, 50, 20} {
		if batchSizes[i] != want {
			t.Fatalf("batch %d has %d points, want %d", i, batchSizes[i], want)
		}
	}
}

func TestUpsertRejectsBadVectors(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected for invalid input")
		return nil, nil
	})

	err := store.Upsert(context.Background(), testProjectID, []vectorindex.Vector{
		{ID: "not-a-uuid", Values: []float32{0.1, 0.2, 0.3}},
	})
	var oe *vectorindex.OperationError
	if !errors.As(err, &oe) || oe.Code != vectorindex.ErrCodeValidationFailed {
		t.Fatalf("non-uuid id: got %v, want validation_failed", err)
	}

	err = store.Upsert(context.Background(), testProjectID, []vectorindex.Vector{
		{ID: uuid.New().String(), Values: []float32{0.1}},
	})
	if !errors.As(err, &oe) || oe.Code != vectorindex.ErrCodeValidationFailed {
		t.Fatalf("dim mismatch: got %v, want validation_failed", err)
	}
}

func TestSearchOrdersByScoreThenID(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		return okResponse(t, []map[string]any{
			{"id": "bbbbbbbb-0000-0000-0000-000000000000", "score": 0.91, "payload": map[string]any{"chunk_id": "b"}},
			{"id": "aaaaaaaa-0000-0000-0000-000000000000", "score": 0.91, "payload": map[string]any{"chunk_id": "a"}},
			{"id": "cccccccc-0000-0000-0000-000000000000", "score": 0.97, "payload": map[string]any{"chunk_id": "c"}},
		}), nil
	})

	matches, err := store.Search(context.Background(), testProjectID, []float32{0.1, 0.2, 0.3}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	gotIDs := []string{matches[0].ID, matches[1].ID, matches[2].ID}
	wantIDs := []string{
		"cccccccc-0000-0000-0000-000000000000",
		"aaaaaaaa-0000-0000-0000-000000000000",
		"bbbbbbbb-0000-0000-0000-000000000000",
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("match order %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestSearchMissingCollectionReturnsNoMatches(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		return errResponse(http.StatusNotFound, "Collection doesn't exist"), nil
	})

	matches, err := store.Search(context.Background(), testProjectID, []float32{0.1, 0.2, 0.3}, 5)
	if err != nil {
		t.Fatalf("Search against missing collection: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(matches))
	}
}

func TestDeleteByFilterScopesToAsset(t *testing.T) {
	var captured deleteRequest
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode delete body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "completed"}), nil
	})

	filter := vectorindex.Filter{AssetID: "11111111-1111-1111-1111-111111111111"}
	if err := store.DeleteByFilter(context.Background(), testProjectID, filter); err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if len(captured.Filter.Must) != 1 ||
		captured.Filter.Must[0].Key != "asset_id" ||
		captured.Filter.Must[0].Match.Value != filter.AssetID {
		t.Fatalf("delete filter = %+v, want asset_id match", captured.Filter)
	}

	err := store.DeleteByFilter(context.Background(), testProjectID, vectorindex.Filter{})
	var oe *vectorindex.OperationError
	if !errors.As(err, &oe) || oe.Code != vectorindex.ErrCodeValidationFailed {
		t.Fatalf("empty filter: got %v, want validation_failed", err)
	}
}

func TestDeleteAndDropTolerateMissingCollection(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		return errResponse(http.StatusNotFound, "Collection doesn't exist"), nil
	})

	filter := vectorindex.Filter{AssetID: "11111111-1111-1111-1111-111111111111"}
	if err := store.DeleteByFilter(context.Background(), testProjectID, filter); err != nil {
		t.Fatalf("DeleteByFilter on missing collection: %v", err)
	}
	if err := store.DropCollection(context.Background(), testProjectID); err != nil {
		t.Fatalf("DropCollection on missing collection: %v", err)
	}
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	var createBody createCollectionRequest
	var calls []string
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method)
		switch r.Method {
		case http.MethodGet:
			return errResponse(http.StatusNotFound, "Collection doesn't exist"), nil
		case http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&createBody); err != nil {
				t.Fatalf("decode create body: %v", err)
			}
			return okResponse(t, true), nil
		default:
			t.Fatalf("unexpected method %s", r.Method)
			return nil, nil
		}
	})

	if err := store.EnsureCollection(context.Background(), testProjectID); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(calls) != 2 || calls[0] != http.MethodGet || calls[1] != http.MethodPut {
		t.Fatalf("calls = %v, want [GET PUT]", calls)
	}
	if createBody.Vectors.Size != 3 || createBody.Vectors.Distance != "Cosine" {
		t.Fatalf("create body = %+v, want size 3 distance Cosine", createBody.Vectors)
	}
}

func TestEnsureCollectionRejectsDimensionDrift(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{
			"points_count": 10,
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 768, "distance": "Cosine"}}},
		}), nil
	})

	err := store.EnsureCollection(context.Background(), testProjectID)
	var oe *vectorindex.OperationError
	if !errors.As(err, &oe) || oe.Code != vectorindex.ErrCodeValidationFailed {
		t.Fatalf("got %v, want validation_failed on dimension drift", err)
	}
}

func TestDoJSONRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return errResponse(http.StatusServiceUnavailable, "overloaded"), nil
		}
		return okResponse(t, []map[string]any{}), nil
	})
	store.cfg.MaxRetries = 2

	matches, err := store.Search(context.Background(), testProjectID, []float32{0.1, 0.2, 0.3}, 1)
	if err != nil {
		t.Fatalf("Search after retry: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(matches))
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("got %d calls, want 2", got)
	}
}

func TestTransportFailureReadsAsUnavailable(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := store.Search(context.Background(), testProjectID, []float32{0.1, 0.2, 0.3}, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !vectorindex.IsUnavailable(err) {
		t.Fatalf("transport failure should classify as unavailable, got %v", err)
	}
}

func TestEnvelopeErrorStatusSurfaces(t *testing.T) {
	store := newTestStore(func(r *http.Request) (*http.Response, error) {
		body, _ := json.Marshal(map[string]any{"status": map[string]string{"error": "wrong vector size"}, "time": 0.001})
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})

	_, err := store.ListCollections(context.Background())
	var oe *vectorindex.OperationError
	if !errors.As(err, &oe) || oe.Code != vectorindex.ErrCodeQueryFailed {
		t.Fatalf("got %v, want query_failed from envelope status", err)
	}
	if oe.Message != "wrong vector size" {
		t.Fatalf("message = %q, want envelope error text", oe.Message)
	}
}
