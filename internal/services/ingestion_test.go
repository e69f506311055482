package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/minirag-backend/internal/chunking"
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/types"
)

func newIngestionFixture(t *testing.T) (*ingestionService, *fakeChunkRepo, *fakeAssetRepo, *fakeIndex, *fakeBucket, *fakeProjects, *types.Project) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	project := &types.Project{ProjectID: 1, ProjectUUID: uuid.New(), UserID: 1, ProjectCode: 42}
	chunkRepo := newFakeChunkRepo()
	assetRepo := newFakeAssetRepo()
	index := newFakeIndex()
	bucket := newFakeBucket()
	projects := newFakeProjects(project)
	svc := &ingestionService{
		log:            log,
		chunkRepo:      chunkRepo,
		assetRepo:      assetRepo,
		projectService: projects,
		embedding:      &fakeEmbedder{},
		runner:         chunking.NewRunner(nil, log),
		index:          index,
		bucket:         bucket,
	}
	return svc, chunkRepo, assetRepo, index, bucket, projects, project
}

func TestIngestRejectsEmptyText(t *testing.T) {
	svc, chunkRepo, _, index, _, _, project := newIngestionFixture(t)
	asset := &types.Asset{AssetID: 1, ProjectID: project.ProjectID, Name: "a.txt"}

	_, err := svc.Ingest(context.Background(), project, asset, "   \n\t ", IngestOptions{
		Method: chunking.MethodSentence, ChunkSize: 50,
	})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("code: want=%q got=%q (err=%v)", apierr.CodeInvalidInput, apierr.CodeOf(err), err)
	}
	if chunkRepo.createCalls != 0 {
		t.Fatalf("no chunk rows may be written for empty input, got %d create calls", chunkRepo.createCalls)
	}
	if index.upsertCalls != 0 {
		t.Fatalf("no vectors may be written for empty input, got %d upsert calls", index.upsertCalls)
	}
}

func TestIngestRejectsInvalidSizing(t *testing.T) {
	svc, _, _, _, _, _, project := newIngestionFixture(t)
	asset := &types.Asset{AssetID: 1, ProjectID: project.ProjectID, Name: "a.txt"}

	_, err := svc.Ingest(context.Background(), project, asset, "some text", IngestOptions{
		Method: chunking.MethodSentence, ChunkSize: 0,
	})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("zero chunk size: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}

	_, err = svc.Ingest(context.Background(), project, asset, "some text", IngestOptions{
		Method: chunking.MethodSentence, ChunkSize: 50, OverlapSize: 50,
	})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("overlap >= chunk size: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}
}

func TestIngestResetSurfacesIndexUnavailable(t *testing.T) {
	svc, chunkRepo, _, index, _, _, project := newIngestionFixture(t)
	asset := &types.Asset{AssetID: 7, ProjectID: project.ProjectID, Name: "a.txt"}
	index.failDelete = &vectorindex.OperationError{
		Backend: "qdrant", Operation: "delete_by_filter", Code: vectorindex.ErrCodeTransportFailed,
	}

	_, err := svc.Ingest(context.Background(), project, asset, "One two. Three four.", IngestOptions{
		Method: chunking.MethodSentence, ChunkSize: 50, Reset: true,
	})
	if apierr.CodeOf(err) != apierr.CodeVectorIndexUnavailable {
		t.Fatalf("code: want=%q got=%q", apierr.CodeVectorIndexUnavailable, apierr.CodeOf(err))
	}
	if chunkRepo.createCalls != 0 {
		t.Fatalf("rows must not be written when reset fails, got %d create calls", chunkRepo.createCalls)
	}
}

func TestIngestEmbeddingFailureStopsBeforeAnyWrite(t *testing.T) {
	svc, chunkRepo, _, index, _, _, project := newIngestionFixture(t)
	asset := &types.Asset{AssetID: 7, ProjectID: project.ProjectID, Name: "a.txt"}
	svc.embedding = &fakeEmbedder{err: apierr.EmbeddingUnavailable(fmt.Errorf("provider down"))}

	_, err := svc.Ingest(context.Background(), project, asset, "One two. Three four.", IngestOptions{
		Method: chunking.MethodSentence, ChunkSize: 50,
	})
	if apierr.CodeOf(err) != apierr.CodeEmbeddingUnavailable {
		t.Fatalf("code: want=%q got=%q", apierr.CodeEmbeddingUnavailable, apierr.CodeOf(err))
	}
	if index.ensureCalls != 0 || index.upsertCalls != 0 {
		t.Fatalf("index must be untouched, got ensure=%d upsert=%d", index.ensureCalls, index.upsertCalls)
	}
	if chunkRepo.createCalls != 0 {
		t.Fatalf("chunk rows must be untouched, got %d create calls", chunkRepo.createCalls)
	}
}

func TestResolveIngestOptionsDefaultsToSemantic(t *testing.T) {
	opts, err := resolveIngestOptions(ProcessRequest{ChunkSize: 500, OverlapSize: 50})
	if err != nil {
		t.Fatalf("resolveIngestOptions: %v", err)
	}
	if opts.Method != chunking.MethodSemantic {
		t.Fatalf("default method: want=%q got=%q", chunking.MethodSemantic, opts.Method)
	}
	if opts.ChunkSize != 500 || opts.OverlapSize != 50 {
		t.Fatalf("sizing must pass through, got %+v", opts)
	}
}

func TestResolveIngestOptionsRejectsUnknownMethod(t *testing.T) {
	_, err := resolveIngestOptions(ProcessRequest{Method: "recursive", ChunkSize: 500})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("code: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}
}

func TestBuildChunkRowsSequencesFromStart(t *testing.T) {
	project := &types.Project{ProjectID: 3, ProjectUUID: uuid.New()}
	asset := &types.Asset{AssetID: 9, Name: "doc.txt"}
	chunked := chunking.Result{Chunks: []string{"one", "two", "three"}, MethodUsed: chunking.MethodSentence}

	rows := buildChunkRows(project, asset, chunked, 0)
	if len(rows) != 3 {
		t.Fatalf("rows: want=3 got=%d", len(rows))
	}
	seen := map[uuid.UUID]bool{}
	for i, row := range rows {
		if row.Sequence != i+1 {
			t.Fatalf("row %d sequence: want=%d got=%d", i, i+1, row.Sequence)
		}
		if row.ProjectID != project.ProjectID || row.AssetID != asset.AssetID {
			t.Fatalf("row %d ownership: got project=%d asset=%d", i, row.ProjectID, row.AssetID)
		}
		if row.ChunkUUID == uuid.Nil || seen[row.ChunkUUID] {
			t.Fatalf("row %d chunk uuid must be fresh and distinct", i)
		}
		seen[row.ChunkUUID] = true
	}

	var meta map[string]any
	if err := json.Unmarshal(rows[0].Metadata, &meta); err != nil {
		t.Fatalf("metadata unmarshal: %v", err)
	}
	if meta["method_used"] != string(chunking.MethodSentence) {
		t.Fatalf("metadata method_used: want=%q got=%v", chunking.MethodSentence, meta["method_used"])
	}
	if meta["asset_name"] != "doc.txt" {
		t.Fatalf("metadata asset_name: want=%q got=%v", "doc.txt", meta["asset_name"])
	}

	appended := buildChunkRows(project, asset, chunked, 5)
	for i, row := range appended {
		if row.Sequence != 6+i {
			t.Fatalf("appended row %d sequence: want=%d got=%d", i, 6+i, row.Sequence)
		}
	}
}

func TestBuildVectorsMirrorsRows(t *testing.T) {
	project := &types.Project{ProjectID: 3, ProjectUUID: uuid.New()}
	asset := &types.Asset{AssetID: 9, Name: "doc.txt"}
	rows := []*types.DataChunk{
		{ChunkID: 11, ChunkUUID: uuid.New(), Sequence: 1, Text: "alpha"},
		{ChunkID: 12, ChunkUUID: uuid.New(), Sequence: 2, Text: "beta"},
	}
	embeddings := [][]float32{{1, 0}, {0, 1}}

	vectors := buildVectors(project, asset, rows, embeddings)
	if len(vectors) != 2 {
		t.Fatalf("vectors: want=2 got=%d", len(vectors))
	}
	for i, v := range vectors {
		if v.ID != rows[i].ChunkUUID.String() {
			t.Fatalf("vector %d id: want=%s got=%s", i, rows[i].ChunkUUID, v.ID)
		}
		if v.Payload.ProjectID != project.ProjectUUID.String() {
			t.Fatalf("vector %d project payload: want=%s got=%s", i, project.ProjectUUID, v.Payload.ProjectID)
		}
		if v.Payload.AssetID != "9" || v.Payload.ChunkID != fmt.Sprintf("%d", rows[i].ChunkID) {
			t.Fatalf("vector %d payload ids: got asset=%q chunk=%q", i, v.Payload.AssetID, v.Payload.ChunkID)
		}
		if v.Payload.Sequence != rows[i].Sequence || v.Payload.Text != rows[i].Text {
			t.Fatalf("vector %d payload content mismatch: %+v", i, v.Payload)
		}
	}
}

func TestProcessProjectRequiresAssets(t *testing.T) {
	svc, _, _, _, _, _, _ := newIngestionFixture(t)

	_, err := svc.ProcessProject(context.Background(), 1, 42, ProcessRequest{ChunkSize: 500})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("code: want=%q got=%q (err=%v)", apierr.CodeInvalidInput, apierr.CodeOf(err), err)
	}
}

func TestProcessProjectUnknownFileNotFound(t *testing.T) {
	svc, _, _, _, _, _, _ := newIngestionFixture(t)

	_, err := svc.ProcessProject(context.Background(), 1, 42, ProcessRequest{FileID: "missing.txt", ChunkSize: 500})
	if apierr.CodeOf(err) != apierr.CodeNotFound {
		t.Fatalf("code: want=%q got=%q", apierr.CodeNotFound, apierr.CodeOf(err))
	}
}

func TestProcessProjectUnknownProjectNotFound(t *testing.T) {
	svc, _, _, _, _, _, _ := newIngestionFixture(t)

	_, err := svc.ProcessProject(context.Background(), 2, 42, ProcessRequest{ChunkSize: 500})
	if apierr.CodeOf(err) != apierr.CodeNotFound {
		t.Fatalf("foreign user must see not_found, got %q", apierr.CodeOf(err))
	}
}

func TestProcessProjectReportsExtractionFailures(t *testing.T) {
	svc, _, assetRepo, _, bucket, _, project := newIngestionFixture(t)
	key := gcs.AssetKey(project.ProjectUUID.String(), 1)
	assetRepo.Create(context.Background(), nil, []*types.Asset{{
		AssetID: 1, ProjectID: project.ProjectID, Name: "broken.txt",
		ContentType: "application/octet-stream", StorageKey: key,
	}})
	bucket.objects[key] = []byte{'c', 'a', 'f', 0xe9}

	_, err := svc.ProcessProject(context.Background(), 1, 42, ProcessRequest{ChunkSize: 500})
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("code: want=%q got=%q (err=%v)", apierr.CodeInvalidInput, apierr.CodeOf(err), err)
	}
	if !strings.Contains(err.Error(), "broken.txt") {
		t.Fatalf("error should name the failing file, got %v", err)
	}
	if bucket.downloadCalls != 1 {
		t.Fatalf("download calls: want=1 got=%d", bucket.downloadCalls)
	}
}
