package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/chunking"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/services"
	"github.com/yungbote/minirag-backend/internal/temporalx"
	"github.com/yungbote/minirag-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Auth      services.AuthService
	Embedding services.EmbeddingService
	Project   services.ProjectService
	Asset     services.AssetService
	Ingestion services.IngestionService
	Retrieval services.RetrievalService
	Deletion  services.DeletionService

	TemporalWorker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, index vectorindex.Index, vectorDim int) (Services, error) {
	log.Info("Wiring services...")

	authService := services.NewAuthService(
		db, log,
		repos.User,
		cfg.JWTSecretKey,
		cfg.AccessTokenTTL,
	)

	embeddingService := services.NewEmbeddingService(log, clients.OpenaiClient, clients.EmbedCache)

	projectService := services.NewProjectService(db, log, repos.Project, repos.Asset, repos.DataChunk, index, vectorDim)
	assetService := services.NewAssetService(db, log, repos.Asset, projectService, clients.Bucket)

	// Semantic chunking rides the same embedding client; when its provider
	// is down the runner degrades to sentence grouping on its own.
	runner := chunking.NewRunner(chunking.NewSemanticSplitter(clients.OpenaiClient), log)

	ingestionService := services.NewIngestionService(
		db, log,
		repos.DataChunk,
		repos.Asset,
		projectService,
		embeddingService,
		runner,
		index,
		clients.Bucket,
	)

	retrievalService := services.NewRetrievalService(
		db, log,
		projectService,
		repos.DataChunk,
		repos.QueryLog,
		embeddingService,
		index,
		clients.OpenaiClient,
		clients.Prompts,
	)

	tcfg := temporalx.LoadConfig()
	deletionService := services.NewDeletionService(
		db, log,
		projectService,
		repos.Project,
		repos.Asset,
		repos.DataChunk,
		index,
		clients.Bucket,
		vectorDim,
		clients.Temporal,
		tcfg.TaskQueue,
	)

	var temporalRunner *temporalworker.Runner
	if clients.Temporal != nil {
		w, err := temporalworker.NewRunner(log, clients.Temporal, deletionService)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
		temporalRunner = w
	}

	return Services{
		Auth:      authService,
		Embedding: embeddingService,
		Project:   projectService,
		Asset:     assetService,
		Ingestion: ingestionService,
		Retrieval: retrievalService,
		Deletion:  deletionService,

		TemporalWorker: temporalRunner,
	}, nil
}
