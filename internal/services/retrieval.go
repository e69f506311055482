package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/openai"
	"github.com/yungbote/minirag-backend/internal/platform/prompts"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/types"
	"github.com/yungbote/minirag-backend/internal/utils"
)

// RetrievalService answers questions over a project's ingested chunks:
// embed the question, search the project's collection, assemble a bounded
// context in ranked order, call the model, log the exchange. Zero search
// hits switch the prompt to an explicit no-context marker instead of
// failing, so freshly created projects still get best-effort answers.
type RetrievalService interface {
	Search(ctx context.Context, userID int, projectCode int, text string, topK int) ([]SearchHit, error)
	Answer(ctx context.Context, userID int, projectCode int, question string, topK int) (*AnswerResult, error)
	IndexInfo(ctx context.Context, userID int, projectCode int) (*IndexInfo, error)
	History(ctx context.Context, userID int, page int, pageSize int) ([]*types.QueryLog, int64, error)
}

type SearchHit struct {
	ChunkID  int     `json:"chunk_id"`
	AssetID  int     `json:"asset_id"`
	Sequence int     `json:"sequence"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

type AnswerResult struct {
	Answer        string  `json:"answer"`
	CitedChunkIDs []int   `json:"cited_chunk_ids"`
	LatencyMs     float64 `json:"latency_ms"`
	FullPrompt    string  `json:"full_prompt"`
}

type IndexInfo struct {
	Collection  string `json:"collection"`
	Exists      bool   `json:"exists"`
	VectorCount int64  `json:"vector_count"`
	VectorDim   int    `json:"vector_dim"`
}

type retrievalService struct {
	db              *gorm.DB
	log             *logger.Logger
	projectService  ProjectService
	chunkRepo       repos.DataChunkRepo
	queryLogRepo    repos.QueryLogRepo
	embedding       EmbeddingService
	index           vectorindex.Index
	ai              openai.Client
	prompts         *prompts.Parser
	defaultTopK     int
	maxTopK         int
	maxContextChars int
}

func NewRetrievalService(
	db *gorm.DB,
	baseLog *logger.Logger,
	projectService ProjectService,
	chunkRepo repos.DataChunkRepo,
	queryLogRepo repos.QueryLogRepo,
	embedding EmbeddingService,
	index vectorindex.Index,
	ai openai.Client,
	promptParser *prompts.Parser,
) RetrievalService {
	serviceLog := baseLog.With("service", "RetrievalService")

	defaultTopK := utils.GetEnvAsInt("RAG_DEFAULT_TOP_K", 10, baseLog)
	if defaultTopK < 1 {
		defaultTopK = 10
	}
	maxTopK := utils.GetEnvAsInt("RAG_MAX_TOP_K", 20, baseLog)
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}
	maxContextChars := utils.GetEnvAsInt("RAG_MAX_CONTEXT_CHARS", 16000, baseLog)
	if maxContextChars < 1 {
		maxContextChars = 16000
	}

	return &retrievalService{
		db:              db,
		log:             serviceLog,
		projectService:  projectService,
		chunkRepo:       chunkRepo,
		queryLogRepo:    queryLogRepo,
		embedding:       embedding,
		index:           index,
		ai:              ai,
		prompts:         promptParser,
		defaultTopK:     defaultTopK,
		maxTopK:         maxTopK,
		maxContextChars: maxContextChars,
	}
}

func (rs *retrievalService) Search(ctx context.Context, userID int, projectCode int, text string, topK int) ([]SearchHit, error) {
	project, err := rs.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		observeQueryOutcome("search", err)
		return nil, err
	}
	matches, err := rs.searchProject(ctx, project, text, topK)
	if err != nil {
		observeQueryOutcome("search", err)
		return nil, err
	}
	observeQueryOutcome("search", nil)

	hits := make([]SearchHit, len(matches))
	for i, m := range matches {
		hits[i] = SearchHit{
			ChunkID:  atoiOrZero(m.Payload.ChunkID),
			AssetID:  atoiOrZero(m.Payload.AssetID),
			Sequence: m.Payload.Sequence,
			Score:    m.Score,
			Text:     m.Payload.Text,
		}
	}
	return hits, nil
}

func (rs *retrievalService) searchProject(ctx context.Context, project *types.Project, text string, topK int) ([]vectorindex.Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("query text is empty"))
	}
	if topK < 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("limit must not be negative, got %d", topK))
	}
	if topK == 0 {
		topK = rs.defaultTopK
	}
	if topK > rs.maxTopK {
		topK = rs.maxTopK
	}

	queryVector, err := rs.embedding.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	matches, err := rs.index.Search(ctx, project.ProjectUUID, queryVector, topK)
	if err != nil {
		return nil, indexError(fmt.Errorf("search collection: %w", err))
	}
	return matches, nil
}

func (rs *retrievalService) Answer(ctx context.Context, userID int, projectCode int, question string, topK int) (*AnswerResult, error) {
	started := time.Now()

	project, err := rs.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		observeQueryOutcome("answer", err)
		return nil, err
	}
	matches, err := rs.searchProject(ctx, project, question, topK)
	if err != nil {
		observeQueryOutcome("answer", err)
		return nil, err
	}

	documents, citedIDs := rs.assembleContext(ctx, matches)

	systemPrompt, fullPrompt, err := rs.prompts.BuildAnswerPrompt(question, documents)
	if err != nil {
		observeQueryOutcome("answer", err)
		return nil, apierr.Internal(fmt.Errorf("build prompt: %w", err))
	}

	answer, err := rs.ai.GenerateText(ctx, systemPrompt, fullPrompt)
	if err != nil {
		observeQueryOutcome("answer", err)
		return nil, apierr.Internal(fmt.Errorf("language model call failed: %w", err))
	}

	observeQueryOutcome("answer", nil)
	latencyMs := float64(time.Since(started)) / float64(time.Millisecond)
	rs.recordQuery(ctx, userID, project, question, answer, citedIDs, latencyMs)

	rs.log.Info("Question answered",
		"project_id", project.ProjectID,
		"cited_chunks", len(citedIDs),
		"latency_ms", latencyMs,
	)
	return &AnswerResult{
		Answer:        answer,
		CitedChunkIDs: citedIDs,
		LatencyMs:     latencyMs,
		FullPrompt:    fullPrompt,
	}, nil
}

// assembleContext turns ranked matches into the document list fed to the
// prompt, bounded by the configured context budget. Rows are re-read from
// the relational store so answers always cite current text; a match whose
// row vanished mid-flight falls back to the payload copy. Lower-ranked
// documents are dropped first when the budget runs out, and the top match
// is truncated rather than dropped so the context is never empty when any
// match exists.
func (rs *retrievalService) assembleContext(ctx context.Context, matches []vectorindex.Match) ([]string, []int) {
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		if id, err := uuid.Parse(m.ID); err == nil {
			ids = append(ids, id)
		}
	}
	rowByUUID := map[uuid.UUID]*types.DataChunk{}
	rows, err := rs.chunkRepo.GetByUUIDs(ctx, nil, ids)
	if err != nil {
		rs.log.Warn("chunk row fetch failed, using vector payloads", "error", err)
	} else {
		for _, row := range rows {
			rowByUUID[row.ChunkUUID] = row
		}
	}

	var documents []string
	var citedIDs []int
	budget := rs.maxContextChars
	for _, m := range matches {
		text := m.Payload.Text
		chunkID := atoiOrZero(m.Payload.ChunkID)
		if id, err := uuid.Parse(m.ID); err == nil {
			if row, ok := rowByUUID[id]; ok {
				text = row.Text
				chunkID = row.ChunkID
			}
		}
		if text == "" {
			continue
		}
		if len(text) > budget {
			if len(documents) > 0 {
				break
			}
			text = text[:budget]
		}
		documents = append(documents, text)
		citedIDs = append(citedIDs, chunkID)
		budget -= len(text)
		if budget <= 0 {
			break
		}
	}
	return documents, citedIDs
}

// recordQuery appends the QueryLog row. Logging never blocks the answer:
// a failed write is reported in server logs only.
func (rs *retrievalService) recordQuery(ctx context.Context, userID int, project *types.Project, question, answer string, citedIDs []int, latencyMs float64) {
	cited, err := json.Marshal(citedIDs)
	if err != nil {
		cited = []byte("[]")
	}
	row := &types.QueryLog{
		UserID:         userID,
		ProjectID:      project.ProjectID,
		Question:       question,
		LLMResponse:    answer,
		ResponseTimeMs: latencyMs,
		CitedChunkIDs:  datatypes.JSON(cited),
	}
	if _, err := rs.queryLogRepo.Create(ctx, nil, []*types.QueryLog{row}); err != nil {
		rs.log.Warn("query log write failed", "project_id", project.ProjectID, "error", err)
	}
}

func (rs *retrievalService) IndexInfo(ctx context.Context, userID int, projectCode int) (*IndexInfo, error) {
	project, err := rs.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	info, err := rs.index.Info(ctx, project.ProjectUUID)
	if err != nil {
		return nil, indexError(fmt.Errorf("collection info: %w", err))
	}
	return &IndexInfo{
		Collection:  vectorindex.CollectionName(rs.embedding.Dim(), project.ProjectUUID),
		Exists:      info.Exists,
		VectorCount: info.VectorCount,
		VectorDim:   info.VectorDim,
	}, nil
}

func (rs *retrievalService) History(ctx context.Context, userID int, page int, pageSize int) ([]*types.QueryLog, int64, error) {
	logs, total, err := rs.queryLogRepo.ListByUser(ctx, nil, userID, page, pageSize)
	if err != nil {
		return nil, 0, apierr.Internal(fmt.Errorf("list query logs: %w", err))
	}
	return logs, total, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// observeQueryOutcome maps a terminal query result to a counter status.
// Caller faults count as rejected so they stay out of the success
// objective.
func observeQueryOutcome(kind string, err error) {
	metrics := observability.Current()
	if metrics == nil {
		return
	}
	if err == nil {
		metrics.ObserveQuery(kind, "success")
		return
	}
	switch apierr.CodeOf(err) {
	case apierr.CodeInvalidInput, apierr.CodeUnauthorized, apierr.CodeNotFound:
		metrics.ObserveQuery(kind, "rejected")
	default:
		metrics.ObserveQuery(kind, "error")
	}
}
