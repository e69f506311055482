package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/types"
)

// ProjectService resolves user-facing project codes into owned project rows
// and aggregates the per-project counters the listing endpoints render.
// Lookups for a code the caller does not own answer not_found, identical to
// a code that was never created.
type ProjectService interface {
	Create(ctx context.Context, userID int, projectCode int) (*types.Project, bool, error)
	GetOwned(ctx context.Context, userID int, projectCode int) (*types.Project, error)
	List(ctx context.Context, userID int, page int, pageSize int) ([]*ProjectSummary, int64, error)
	Detail(ctx context.Context, userID int, projectCode int) (*ProjectDetail, error)
}

type ProjectSummary struct {
	Project    *types.Project `json:"project"`
	AssetCount int64          `json:"asset_count"`
	ChunkCount int64          `json:"chunk_count"`
}

type ProjectDetail struct {
	ProjectSummary
	IsIndexed   bool   `json:"is_indexed"`
	Collection  string `json:"collection"`
	VectorCount int64  `json:"vector_count"`
}

type projectService struct {
	db          *gorm.DB
	log         *logger.Logger
	projectRepo repos.ProjectRepo
	assetRepo   repos.AssetRepo
	chunkRepo   repos.DataChunkRepo
	index       vectorindex.Index
	vectorDim   int
}

func NewProjectService(
	db *gorm.DB,
	baseLog *logger.Logger,
	projectRepo repos.ProjectRepo,
	assetRepo repos.AssetRepo,
	chunkRepo repos.DataChunkRepo,
	index vectorindex.Index,
	vectorDim int,
) ProjectService {
	serviceLog := baseLog.With("service", "ProjectService")
	return &projectService{
		db:          db,
		log:         serviceLog,
		projectRepo: projectRepo,
		assetRepo:   assetRepo,
		chunkRepo:   chunkRepo,
		index:       index,
		vectorDim:   vectorDim,
	}
}

func (ps *projectService) Create(ctx context.Context, userID int, projectCode int) (*types.Project, bool, error) {
	if projectCode <= 0 {
		return nil, false, apierr.InvalidInput(fmt.Errorf("project code must be positive, got %d", projectCode))
	}

	project, created, err := ps.projectRepo.GetOrCreate(ctx, nil, userID, projectCode)
	if err != nil {
		return nil, false, apierr.Internal(fmt.Errorf("get or create project: %w", err))
	}
	if created {
		ps.log.Info("Project created", "project_id", project.ProjectID, "project_code", projectCode)
	}
	return project, created, nil
}

func (ps *projectService) GetOwned(ctx context.Context, userID int, projectCode int) (*types.Project, error) {
	if projectCode <= 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("project code must be positive, got %d", projectCode))
	}

	project, err := ps.projectRepo.GetByUserAndCode(ctx, nil, userID, projectCode)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("fetch project: %w", err))
	}
	if project == nil {
		return nil, apierr.NotFound(fmt.Errorf("project %d not found", projectCode))
	}
	return project, nil
}

func (ps *projectService) List(ctx context.Context, userID int, page int, pageSize int) ([]*ProjectSummary, int64, error) {
	projects, total, err := ps.projectRepo.ListByUser(ctx, nil, userID, page, pageSize)
	if err != nil {
		return nil, 0, apierr.Internal(fmt.Errorf("list projects: %w", err))
	}

	summaries := make([]*ProjectSummary, 0, len(projects))
	for _, project := range projects {
		summary, err := ps.summarize(ctx, project)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, nil
}

func (ps *projectService) Detail(ctx context.Context, userID int, projectCode int) (*ProjectDetail, error) {
	project, err := ps.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	summary, err := ps.summarize(ctx, project)
	if err != nil {
		return nil, err
	}

	detail := &ProjectDetail{
		ProjectSummary: *summary,
		Collection:     vectorindex.CollectionName(ps.vectorDim, project.ProjectUUID),
	}

	// Index reachability is not required to describe a project; report
	// unindexed rather than failing the whole detail view.
	info, err := ps.index.Info(ctx, project.ProjectUUID)
	if err != nil {
		ps.log.Warn("collection info unavailable", "project_id", project.ProjectID, "error", err)
		return detail, nil
	}
	detail.IsIndexed = info.Exists && info.VectorCount > 0
	detail.VectorCount = info.VectorCount
	return detail, nil
}

func (ps *projectService) summarize(ctx context.Context, project *types.Project) (*ProjectSummary, error) {
	assetCount, err := ps.assetRepo.CountByProject(ctx, nil, project.ProjectID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("count assets: %w", err))
	}
	chunkCount, err := ps.chunkRepo.CountByProject(ctx, nil, project.ProjectID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("count chunks: %w", err))
	}
	return &ProjectSummary{
		Project:    project,
		AssetCount: assetCount,
		ChunkCount: chunkCount,
	}, nil
}
