package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/minirag-backend/internal/chunking"
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/repos/testutil"
	"github.com/yungbote/minirag-backend/internal/types"
)

// Three sentences sized so that with ChunkSize 50 each fits in a chunk on
// its own but no two fit together, giving exactly one chunk per sentence.
const ingestSentenceText = "The quick brown fox jumps over a lazy dog. " +
	"Pack my box with five dozen brown jugs now. " +
	"Crazy Fredrick bought many very fine pearls."

var ingestSentences = []string{
	"The quick brown fox jumps over a lazy dog.",
	"Pack my box with five dozen brown jugs now.",
	"Crazy Fredrick bought many very fine pearls.",
}

var ingestSentenceOpts = IngestOptions{
	Method:      chunking.MethodSentence,
	ChunkSize:   50,
	OverlapSize: 0,
}

type ingestionDBFixture struct {
	svc       *ingestionService
	chunkRepo repos.DataChunkRepo
	index     *fakeIndex
	project   *types.Project
	asset     *types.Asset
}

// newIngestionDBFixture builds an ingestion service whose repos and db
// handle all point at the rolled-back test transaction, so the service's
// internal transaction nests as a savepoint and its writes stay visible
// to the test without touching the shared database.
func newIngestionDBFixture(t *testing.T) *ingestionDBFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()

	user := testutil.SeedUser(t, ctx, tx, "ingest@example.com")
	project := testutil.SeedProject(t, ctx, tx, user.UserID, 42)
	asset := testutil.SeedAsset(t, ctx, tx, project.ProjectID, "notes.txt")

	chunkRepo := repos.NewDataChunkRepo(tx, log)
	index := newFakeIndex()
	svc := &ingestionService{
		db:             tx,
		log:            log.With("service", "IngestionService"),
		chunkRepo:      chunkRepo,
		assetRepo:      repos.NewAssetRepo(tx, log),
		projectService: newFakeProjects(project),
		embedding:      &fakeEmbedder{},
		runner:         chunking.NewRunner(nil, log),
		index:          index,
		bucket:         newFakeBucket(),
	}
	return &ingestionDBFixture{
		svc:       svc,
		chunkRepo: chunkRepo,
		index:     index,
		project:   project,
		asset:     asset,
	}
}

func TestIngestPersistsRowsAndVectorsTogether(t *testing.T) {
	fx := newIngestionDBFixture(t)
	ctx := context.Background()

	res, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, ingestSentenceOpts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.InsertedChunks != 3 {
		t.Fatalf("inserted chunks: want=3 got=%d", res.InsertedChunks)
	}
	if res.MethodUsed != chunking.MethodSentence {
		t.Fatalf("method used: want=%q got=%q", chunking.MethodSentence, res.MethodUsed)
	}

	rows, err := fx.chunkRepo.GetByAsset(ctx, nil, fx.asset.AssetID)
	if err != nil {
		t.Fatalf("GetByAsset: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("chunk rows: want=3 got=%d", len(rows))
	}
	for i, row := range rows {
		if row.Sequence != i+1 {
			t.Fatalf("row %d sequence: want=%d got=%d", i, i+1, row.Sequence)
		}
		if row.Text != ingestSentences[i] {
			t.Fatalf("row %d text: want=%q got=%q", i, ingestSentences[i], row.Text)
		}
	}

	stored := fx.index.collections[fx.project.ProjectUUID.String()]
	if len(stored) != 3 {
		t.Fatalf("stored vectors: want=3 got=%d", len(stored))
	}
	rowUUIDs := map[string]bool{}
	for _, row := range rows {
		rowUUIDs[row.ChunkUUID.String()] = true
	}
	for _, v := range stored {
		if !rowUUIDs[v.ID] {
			t.Fatalf("vector id %q has no matching chunk row", v.ID)
		}
		if v.Payload.ProjectID != fx.project.ProjectUUID.String() {
			t.Fatalf("vector project: want=%q got=%q", fx.project.ProjectUUID, v.Payload.ProjectID)
		}
	}
}

func TestIngestAppendContinuesSequence(t *testing.T) {
	fx := newIngestionDBFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, ingestSentenceOpts); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if _, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, ingestSentenceOpts); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	rows, err := fx.chunkRepo.GetByAsset(ctx, nil, fx.asset.AssetID)
	if err != nil {
		t.Fatalf("GetByAsset: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("chunk rows after append: want=6 got=%d", len(rows))
	}
	for i, row := range rows {
		if row.Sequence != i+1 {
			t.Fatalf("row %d sequence: want=%d got=%d", i, i+1, row.Sequence)
		}
	}
	if got := len(fx.index.collections[fx.project.ProjectUUID.String()]); got != 6 {
		t.Fatalf("stored vectors after append: want=6 got=%d", got)
	}
}

func TestIngestResetReplacesPriorGeneration(t *testing.T) {
	fx := newIngestionDBFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, ingestSentenceOpts); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	resetOpts := ingestSentenceOpts
	resetOpts.Reset = true
	if _, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, resetOpts); err != nil {
		t.Fatalf("reset Ingest: %v", err)
	}

	rows, err := fx.chunkRepo.GetByAsset(ctx, nil, fx.asset.AssetID)
	if err != nil {
		t.Fatalf("GetByAsset: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("chunk rows after reset: want=3 got=%d", len(rows))
	}
	for i, row := range rows {
		if row.Sequence != i+1 {
			t.Fatalf("row %d sequence after reset: want=%d got=%d", i, i+1, row.Sequence)
		}
	}
	if fx.index.deleteCalls != 1 {
		t.Fatalf("index delete calls: want=1 got=%d", fx.index.deleteCalls)
	}
	if got := len(fx.index.collections[fx.project.ProjectUUID.String()]); got != 3 {
		t.Fatalf("stored vectors after reset: want=3 got=%d", got)
	}
}

func TestIngestSemanticRequestDegradesToSentence(t *testing.T) {
	fx := newIngestionDBFixture(t)
	ctx := context.Background()

	// The fixture's runner has no semantic splitter, so a semantic request
	// degrades down the chain and the result names the method that ran.
	opts := ingestSentenceOpts
	opts.Method = chunking.MethodSemantic
	res, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, opts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.MethodUsed != chunking.MethodSentence {
		t.Fatalf("method used: want=%q got=%q", chunking.MethodSentence, res.MethodUsed)
	}
	if res.InsertedChunks != 3 {
		t.Fatalf("inserted chunks: want=3 got=%d", res.InsertedChunks)
	}
}

func TestIngestVectorFailureRollsBackChunkRows(t *testing.T) {
	fx := newIngestionDBFixture(t)
	ctx := context.Background()
	fx.index.failUpsert = &vectorindex.OperationError{
		Backend: "qdrant", Operation: "upsert", Code: vectorindex.ErrCodeTransportFailed,
	}

	_, err := fx.svc.Ingest(ctx, fx.project, fx.asset, ingestSentenceText, ingestSentenceOpts)
	if apierr.CodeOf(err) != apierr.CodePartialIngestFailure {
		t.Fatalf("code: want=%q got=%q (%v)", apierr.CodePartialIngestFailure, apierr.CodeOf(err), err)
	}

	rows, err := fx.chunkRepo.GetByAsset(ctx, nil, fx.asset.AssetID)
	if err != nil {
		t.Fatalf("GetByAsset: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("chunk rows after rollback: want=0 got=%d", len(rows))
	}
}

func newAssetDBFixture(t *testing.T) (*assetService, repos.AssetRepo, *fakeBucket, *types.Project) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()

	user := testutil.SeedUser(t, ctx, tx, "upload@example.com")
	project := testutil.SeedProject(t, ctx, tx, user.UserID, 7)

	assetRepo := repos.NewAssetRepo(tx, log)
	bucket := newFakeBucket()
	svc := &assetService{
		db:             tx,
		log:            log.With("service", "AssetService"),
		assetRepo:      assetRepo,
		projectService: newFakeProjects(project),
		bucket:         bucket,
		allowedTypes:   map[string]bool{"text/plain": true},
		maxSizeBytes:   1 << 20,
	}
	return svc, assetRepo, bucket, project
}

func TestUploadPersistsRowAndObject(t *testing.T) {
	svc, assetRepo, bucket, project := newAssetDBFixture(t)
	ctx := context.Background()

	asset, err := svc.Upload(ctx, project.UserID, project.ProjectCode, UploadedFile{
		OriginalName: "notes.txt",
		ContentType:  "text/plain",
		SizeBytes:    11,
		Reader:       strings.NewReader("hello world"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if asset.AssetID == 0 {
		t.Fatalf("asset id not assigned")
	}
	if !strings.HasSuffix(asset.Name, "_notes.txt") {
		t.Fatalf("asset name %q missing sanitized suffix", asset.Name)
	}

	wantKey := gcs.AssetKey(project.ProjectUUID.String(), asset.AssetID)
	if asset.StorageKey != wantKey {
		t.Fatalf("storage key: want=%q got=%q", wantKey, asset.StorageKey)
	}
	if got := string(bucket.objects[wantKey]); got != "hello world" {
		t.Fatalf("stored object: want=%q got=%q", "hello world", got)
	}

	row, err := assetRepo.GetByID(ctx, nil, asset.AssetID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row == nil || row.StorageKey != wantKey {
		t.Fatalf("persisted storage key: want=%q got=%+v", wantKey, row)
	}
}

func TestUploadObjectFailureRollsBackRow(t *testing.T) {
	svc, assetRepo, bucket, project := newAssetDBFixture(t)
	ctx := context.Background()
	bucket.failUpload = errors.New("bucket down")

	_, err := svc.Upload(ctx, project.UserID, project.ProjectCode, UploadedFile{
		OriginalName: "notes.txt",
		ContentType:  "text/plain",
		SizeBytes:    11,
		Reader:       strings.NewReader("hello world"),
	})
	if apierr.CodeOf(err) != apierr.CodeInternal {
		t.Fatalf("code: want=%q got=%q (%v)", apierr.CodeInternal, apierr.CodeOf(err), err)
	}

	count, err := assetRepo.CountByProject(ctx, nil, project.ProjectID)
	if err != nil {
		t.Fatalf("CountByProject: %v", err)
	}
	if count != 0 {
		t.Fatalf("asset rows after rollback: want=0 got=%d", count)
	}
}
