package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/chunking"
	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/types"
)

// Vector writes go to the index in slices of this size so one oversized
// asset cannot produce an unbounded request body.
const upsertBatchSize = 50

// IngestionService runs the write half of the pipeline: chunk, embed,
// persist. Chunk rows and their vectors move together; when the index
// rejects a batch the chunk rows from this call are rolled back and the
// caller sees partial_ingest_failure, leaving the previous generation of
// the asset intact.
type IngestionService interface {
	Ingest(ctx context.Context, project *types.Project, asset *types.Asset, text string, opts IngestOptions) (*IngestResult, error)
	ProcessProject(ctx context.Context, userID int, projectCode int, req ProcessRequest) (*ProcessResult, error)
	IndexPush(ctx context.Context, userID int, projectCode int, doReset bool) (*PushResult, error)
}

type IngestOptions struct {
	Method      chunking.Method
	ChunkSize   int
	OverlapSize int
	Reset       bool
}

type IngestResult struct {
	AssetID        int             `json:"asset_id"`
	AssetName      string          `json:"asset_name"`
	InsertedChunks int             `json:"inserted_chunks"`
	MethodUsed     chunking.Method `json:"method_used"`
}

// ProcessRequest targets either one asset by its stored name (FileID) or
// every asset in the project. Text carries pre-decoded content and is only
// honored for single-asset requests; otherwise content is read back from
// object storage.
type ProcessRequest struct {
	FileID      string
	Text        string
	Method      string
	ChunkSize   int
	OverlapSize int
	DoReset     bool
}

type ProcessFailure struct {
	AssetName string `json:"asset_name"`
	Reason    string `json:"reason"`
}

type ProcessResult struct {
	ProcessedFiles int              `json:"processed_files"`
	InsertedChunks int              `json:"inserted_chunks"`
	Results        []*IngestResult  `json:"results"`
	Failures       []ProcessFailure `json:"failures,omitempty"`
}

type PushResult struct {
	PushedVectors int    `json:"pushed_vectors"`
	Collection    string `json:"collection"`
}

type ingestionService struct {
	db             *gorm.DB
	log            *logger.Logger
	chunkRepo      repos.DataChunkRepo
	assetRepo      repos.AssetRepo
	projectService ProjectService
	embedding      EmbeddingService
	runner         *chunking.Runner
	index          vectorindex.Index
	bucket         gcs.BucketService
}

func NewIngestionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chunkRepo repos.DataChunkRepo,
	assetRepo repos.AssetRepo,
	projectService ProjectService,
	embedding EmbeddingService,
	runner *chunking.Runner,
	index vectorindex.Index,
	bucket gcs.BucketService,
) IngestionService {
	serviceLog := baseLog.With("service", "IngestionService")
	return &ingestionService{
		db:             db,
		log:            serviceLog,
		chunkRepo:      chunkRepo,
		assetRepo:      assetRepo,
		projectService: projectService,
		embedding:      embedding,
		runner:         runner,
		index:          index,
		bucket:         bucket,
	}
}

func (is *ingestionService) Ingest(ctx context.Context, project *types.Project, asset *types.Asset, text string, opts IngestOptions) (*IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("asset text is empty"))
	}
	if opts.ChunkSize <= 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize))
	}
	if opts.OverlapSize < 0 || opts.OverlapSize >= opts.ChunkSize {
		return nil, apierr.InvalidInput(fmt.Errorf("overlap size %d must be in [0, chunk size)", opts.OverlapSize))
	}

	if opts.Reset {
		if err := is.resetAsset(ctx, project, asset); err != nil {
			observeIngestRun("error", "", 0)
			return nil, err
		}
	}

	chunked, err := is.runner.Chunk(ctx, text, chunking.Options{
		Method:      opts.Method,
		ChunkSize:   opts.ChunkSize,
		OverlapSize: opts.OverlapSize,
	})
	if err != nil {
		observeIngestRun("error", "", 0)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apierr.Internal(fmt.Errorf("chunk asset %d: %w", asset.AssetID, err))
	}
	if chunked.MethodUsed != opts.Method {
		observability.ReportChunkingFallback(ctx, is.log, string(opts.Method), string(chunked.MethodUsed), map[string]any{
			"project_id": project.ProjectID,
			"asset_id":   asset.AssetID,
		})
	}

	embeddings, err := is.embedding.EmbedTexts(ctx, chunked.Chunks)
	if err != nil {
		observeIngestRun("error", "", 0)
		return nil, err
	}

	if err := is.index.EnsureCollection(ctx, project.ProjectUUID); err != nil {
		observeIngestRun("error", "", 0)
		return nil, indexError(fmt.Errorf("ensure collection: %w", err))
	}

	startSeq := 0
	if !opts.Reset {
		startSeq, err = is.chunkRepo.MaxSequenceForAsset(ctx, nil, asset.AssetID)
		if err != nil {
			observeIngestRun("error", "", 0)
			return nil, apierr.Internal(fmt.Errorf("read max sequence: %w", err))
		}
	}

	rows := buildChunkRows(project, asset, chunked, startSeq)

	// Rows and vectors commit or vanish together: the index writes happen
	// inside the row transaction so an index failure rolls the rows back.
	err = is.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := is.chunkRepo.Create(ctx, tx, rows); err != nil {
			return apierr.Internal(fmt.Errorf("insert chunk rows: %w", err))
		}
		vectors := buildVectors(project, asset, rows, embeddings)
		for start := 0; start < len(vectors); start += upsertBatchSize {
			end := start + upsertBatchSize
			if end > len(vectors) {
				end = len(vectors)
			}
			if err := is.index.Upsert(ctx, project.ProjectUUID, vectors[start:end]); err != nil {
				return apierr.PartialIngestFailure(fmt.Errorf("upsert vectors [%d:%d): %w", start, end, err))
			}
		}
		return nil
	})
	if err != nil {
		observeIngestRun("error", "", 0)
		var ae *apierr.Error
		if errors.As(err, &ae) {
			if ae.Code == apierr.CodePartialIngestFailure {
				is.log.Warn("Ingest rolled back after vector write failure",
					"project_id", project.ProjectID,
					"asset_id", asset.AssetID,
					"error", err,
				)
			}
			return nil, err
		}
		// Commit failed after the vectors were already written; the stale
		// vectors are overwritten on the next ingest or cleared by reset.
		is.log.Error("Ingest commit failed after vector writes",
			"project_id", project.ProjectID,
			"asset_id", asset.AssetID,
			"error", err,
		)
		return nil, apierr.PartialIngestFailure(fmt.Errorf("commit chunk rows: %w", err))
	}

	observeIngestRun("success", string(chunked.MethodUsed), len(rows))
	is.log.Info("Asset ingested",
		"project_id", project.ProjectID,
		"asset_id", asset.AssetID,
		"chunks", len(rows),
		"method_used", string(chunked.MethodUsed),
	)
	return &IngestResult{
		AssetID:        asset.AssetID,
		AssetName:      asset.Name,
		InsertedChunks: len(rows),
		MethodUsed:     chunked.MethodUsed,
	}, nil
}

// resetAsset clears the asset's prior chunks and vectors so the new
// generation starts from sequence 1.
func (is *ingestionService) resetAsset(ctx context.Context, project *types.Project, asset *types.Asset) error {
	filter := vectorindex.Filter{AssetID: strconv.Itoa(asset.AssetID)}
	if err := is.index.DeleteByFilter(ctx, project.ProjectUUID, filter); err != nil {
		return indexError(fmt.Errorf("reset asset vectors: %w", err))
	}
	if _, err := is.chunkRepo.DeleteByAsset(ctx, nil, asset.AssetID); err != nil {
		return apierr.Internal(fmt.Errorf("reset asset chunks: %w", err))
	}
	return nil
}

func (is *ingestionService) ProcessProject(ctx context.Context, userID int, projectCode int, req ProcessRequest) (*ProcessResult, error) {
	project, err := is.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	opts, err := resolveIngestOptions(req)
	if err != nil {
		return nil, err
	}

	targets, err := is.resolveTargets(ctx, project, req.FileID)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{}
	var extractionErrs []string
	for _, asset := range targets {
		text, err := is.assetText(ctx, asset, req)
		if err != nil {
			extractionErrs = append(extractionErrs, fmt.Sprintf("%s: %s", asset.Name, err.Error()))
			result.Failures = append(result.Failures, ProcessFailure{AssetName: asset.Name, Reason: err.Error()})
			continue
		}
		ingested, err := is.Ingest(ctx, project, asset, text, opts)
		if err != nil {
			// Availability and partial-write failures are systemic; stopping
			// beats burning provider calls on the remaining files.
			switch apierr.CodeOf(err) {
			case apierr.CodeEmbeddingUnavailable, apierr.CodeVectorIndexUnavailable, apierr.CodePartialIngestFailure:
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, err
			}
			result.Failures = append(result.Failures, ProcessFailure{AssetName: asset.Name, Reason: err.Error()})
			continue
		}
		result.ProcessedFiles++
		result.InsertedChunks += ingested.InsertedChunks
		result.Results = append(result.Results, ingested)
	}

	if len(extractionErrs) > 0 {
		observability.ReportDataQualityErrors(ctx, is.log, "extraction", extractionErrs, map[string]any{
			"project_id": project.ProjectID,
			"file_count": len(targets),
		})
	}

	if result.ProcessedFiles == 0 {
		reasons := make([]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			reasons = append(reasons, fmt.Sprintf("%s: %s", f.AssetName, f.Reason))
		}
		return nil, apierr.InvalidInput(fmt.Errorf("no assets processed: %s", strings.Join(reasons, "; ")))
	}
	return result, nil
}

func (is *ingestionService) resolveTargets(ctx context.Context, project *types.Project, fileID string) ([]*types.Asset, error) {
	if name := strings.TrimSpace(fileID); name != "" {
		asset, err := is.assetRepo.GetByProjectAndName(ctx, nil, project.ProjectID, name)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("fetch asset: %w", err))
		}
		if asset == nil {
			return nil, apierr.NotFound(fmt.Errorf("file %q not found", name))
		}
		return []*types.Asset{asset}, nil
	}

	assets, err := is.assetRepo.GetByProject(ctx, nil, project.ProjectID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("list assets: %w", err))
	}
	if len(assets) == 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("project has no files to process"))
	}
	return assets, nil
}

// assetText resolves the text for one asset: inline text when the request
// targets exactly that asset, otherwise the stored bytes run through the
// format-sniffing extractor.
func (is *ingestionService) assetText(ctx context.Context, asset *types.Asset, req ProcessRequest) (string, error) {
	if strings.TrimSpace(req.Text) != "" && strings.TrimSpace(req.FileID) == asset.Name {
		return req.Text, nil
	}
	if asset.StorageKey == "" {
		return "", fmt.Errorf("no stored content")
	}
	data, err := is.bucket.DownloadFile(ctx, asset.StorageKey)
	if err != nil {
		return "", fmt.Errorf("read stored content: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("stored content is missing")
	}
	return ExtractText(asset.Name, asset.ContentType, data)
}

func (is *ingestionService) IndexPush(ctx context.Context, userID int, projectCode int, doReset bool) (*PushResult, error) {
	project, err := is.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	if doReset {
		if err := is.index.DropCollection(ctx, project.ProjectUUID); err != nil {
			return nil, indexError(fmt.Errorf("drop collection: %w", err))
		}
	}
	if err := is.index.EnsureCollection(ctx, project.ProjectUUID); err != nil {
		return nil, indexError(fmt.Errorf("ensure collection: %w", err))
	}

	chunks, err := is.chunkRepo.GetByProject(ctx, nil, project.ProjectID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("list chunks: %w", err))
	}

	collection := vectorindex.CollectionName(is.embedding.Dim(), project.ProjectUUID)
	pushed := 0
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		embeddings, err := is.embedding.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}

		vectors := make([]vectorindex.Vector, len(batch))
		for i, chunk := range batch {
			vectors[i] = vectorindex.Vector{
				ID:     chunk.ChunkUUID.String(),
				Values: embeddings[i],
				Payload: vectorindex.Payload{
					ProjectID: project.ProjectUUID.String(),
					AssetID:   strconv.Itoa(chunk.AssetID),
					ChunkID:   strconv.Itoa(chunk.ChunkID),
					Sequence:  chunk.Sequence,
					Text:      chunk.Text,
				},
			}
		}
		if err := is.index.Upsert(ctx, project.ProjectUUID, vectors); err != nil {
			return nil, indexError(fmt.Errorf("push vectors [%d:%d): %w", start, end, err))
		}
		pushed += len(vectors)
	}

	is.log.Info("Index push complete",
		"project_id", project.ProjectID,
		"pushed_vectors", pushed,
		"reset", doReset,
	)
	return &PushResult{PushedVectors: pushed, Collection: collection}, nil
}

// resolveIngestOptions validates the client-supplied method name. Sizing
// defaults are applied at the request-binding layer, so zero values arrive
// here only when the client sent them and fail validation in Ingest.
func resolveIngestOptions(req ProcessRequest) (IngestOptions, error) {
	opts := IngestOptions{
		ChunkSize:   req.ChunkSize,
		OverlapSize: req.OverlapSize,
		Reset:       req.DoReset,
	}

	method := chunking.MethodSemantic
	if s := strings.TrimSpace(req.Method); s != "" {
		parsed, ok := chunking.ParseMethod(s)
		if !ok {
			return IngestOptions{}, apierr.InvalidInput(fmt.Errorf("unknown chunking method %q", s))
		}
		method = parsed
	}
	opts.Method = method
	return opts, nil
}

func buildChunkRows(project *types.Project, asset *types.Asset, chunked chunking.Result, startSeq int) []*types.DataChunk {
	meta, _ := json.Marshal(map[string]any{
		"method_used": string(chunked.MethodUsed),
		"asset_name":  asset.Name,
	})

	rows := make([]*types.DataChunk, len(chunked.Chunks))
	for i, text := range chunked.Chunks {
		rows[i] = &types.DataChunk{
			ChunkUUID: uuid.New(),
			ProjectID: project.ProjectID,
			AssetID:   asset.AssetID,
			Sequence:  startSeq + i + 1,
			Text:      text,
			Metadata:  datatypes.JSON(meta),
		}
	}
	return rows
}

func buildVectors(project *types.Project, asset *types.Asset, rows []*types.DataChunk, embeddings [][]float32) []vectorindex.Vector {
	vectors := make([]vectorindex.Vector, len(rows))
	for i, row := range rows {
		vectors[i] = vectorindex.Vector{
			ID:     row.ChunkUUID.String(),
			Values: embeddings[i],
			Payload: vectorindex.Payload{
				ProjectID: project.ProjectUUID.String(),
				AssetID:   strconv.Itoa(asset.AssetID),
				ChunkID:   strconv.Itoa(row.ChunkID),
				Sequence:  row.Sequence,
				Text:      row.Text,
			},
		}
	}
	return vectors
}

// observeIngestRun records one terminal ingest outcome. Validation
// rejections never reach here, so the counter tracks pipeline health
// rather than caller mistakes.
func observeIngestRun(status, strategy string, chunks int) {
	metrics := observability.Current()
	if metrics == nil {
		return
	}
	metrics.ObserveIngest(status)
	if chunks > 0 {
		metrics.AddIngestChunks(strategy, chunks)
	}
}
