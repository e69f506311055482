package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/repos"
)

// Saga step names. Shared names (delete_chunk_rows) are scoped by which
// params a step request carries.
const (
	StepDeleteVectors    = "delete_vectors"
	StepDeleteChunkRows  = "delete_chunk_rows"
	StepDeleteObject     = "delete_object"
	StepDeleteAssetRow   = "delete_asset_row"
	StepDropCollection   = "drop_collection"
	StepDeleteAssetRows  = "delete_asset_rows"
	StepDeleteObjects    = "delete_objects"
	StepDeleteProjectRow = "delete_project_row"
)

// DeletionService keeps the vector index and the relational store aligned
// when assets or projects go away. Steps always run vector-store-first so a
// crash mid-sequence leaves at worst rows without vectors, never vectors a
// query could surface without an owning row. Every step is idempotent and
// runs even when an earlier one failed; any failure makes the overall call
// report deletion_incomplete so the caller can retry.
//
// Sagas run in-process by default. With a workflow engine configured and
// TEMPORAL_DELETION_ENABLED, DeleteAsset and DeleteProject route through a
// durable workflow whose activities call back into ExecuteStep.
type DeletionService interface {
	DeleteAsset(ctx context.Context, userID int, projectCode int, assetID int) (*DeletionReport, error)
	DeleteProject(ctx context.Context, userID int, projectCode int) (*DeletionReport, error)
	ExecuteStep(ctx context.Context, req DeletionStepRequest) error
	Sweep(ctx context.Context) (*SweepReport, error)
}

type DeletionStep struct {
	Step   string `json:"step"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type DeletionReport struct {
	Succeeded bool           `json:"succeeded"`
	Steps     []DeletionStep `json:"steps"`
}

// SweepReport summarizes one orphan-collection pass.
type SweepReport struct {
	ScannedCollections int      `json:"scanned_collections"`
	DroppedCollections []string `json:"dropped_collections"`
	FailedCollections  []string `json:"failed_collections,omitempty"`
	SkippedCollections []string `json:"skipped_collections,omitempty"`
}

// AssetDeletionParams addresses one asset saga by resolved ids so any step
// can run without re-reading rows an earlier step already deleted.
type AssetDeletionParams struct {
	ProjectID   int       `json:"project_id"`
	ProjectUUID uuid.UUID `json:"project_uuid"`
	AssetID     int       `json:"asset_id"`
	StorageKey  string    `json:"storage_key,omitempty"`
}

type ProjectDeletionParams struct {
	ProjectID   int       `json:"project_id"`
	ProjectUUID uuid.UUID `json:"project_uuid"`
}

// DeletionStepRequest is one addressable saga step. Exactly one of Asset
// and Project is set.
type DeletionStepRequest struct {
	Step    string                 `json:"step"`
	Asset   *AssetDeletionParams   `json:"asset,omitempty"`
	Project *ProjectDeletionParams `json:"project,omitempty"`
}

// AssetDeletionSteps is the asset saga in execution order.
func AssetDeletionSteps(p AssetDeletionParams) []DeletionStepRequest {
	target := &p
	return []DeletionStepRequest{
		{Step: StepDeleteVectors, Asset: target},
		{Step: StepDeleteChunkRows, Asset: target},
		{Step: StepDeleteObject, Asset: target},
		{Step: StepDeleteAssetRow, Asset: target},
	}
}

// ProjectDeletionSteps is the project saga in execution order.
func ProjectDeletionSteps(p ProjectDeletionParams) []DeletionStepRequest {
	target := &p
	return []DeletionStepRequest{
		{Step: StepDropCollection, Project: target},
		{Step: StepDeleteChunkRows, Project: target},
		{Step: StepDeleteAssetRows, Project: target},
		{Step: StepDeleteObjects, Project: target},
		{Step: StepDeleteProjectRow, Project: target},
	}
}

type deletionService struct {
	db                *gorm.DB
	log               *logger.Logger
	projectService    ProjectService
	projectRepo       repos.ProjectRepo
	assetRepo         repos.AssetRepo
	chunkRepo         repos.DataChunkRepo
	index             vectorindex.Index
	bucket            gcs.BucketService
	vectorDim         int
	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

// NewDeletionService wires the saga coordinator. tc may be nil; sagas then
// always run in-process.
func NewDeletionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	projectService ProjectService,
	projectRepo repos.ProjectRepo,
	assetRepo repos.AssetRepo,
	chunkRepo repos.DataChunkRepo,
	index vectorindex.Index,
	bucket gcs.BucketService,
	vectorDim int,
	tc temporalsdkclient.Client,
	temporalTaskQueue string,
) DeletionService {
	serviceLog := baseLog.With("service", "DeletionService")
	return &deletionService{
		db:                db,
		log:               serviceLog,
		projectService:    projectService,
		projectRepo:       projectRepo,
		assetRepo:         assetRepo,
		chunkRepo:         chunkRepo,
		index:             index,
		bucket:            bucket,
		vectorDim:         vectorDim,
		temporal:          tc,
		temporalTaskQueue: temporalTaskQueue,
	}
}

// ExecuteStep runs one saga step by name. Steps are idempotent: deleting
// what is already gone succeeds.
func (ds *deletionService) ExecuteStep(ctx context.Context, req DeletionStepRequest) error {
	switch {
	case req.Asset != nil:
		return ds.executeAssetStep(ctx, req.Step, *req.Asset)
	case req.Project != nil:
		return ds.executeProjectStep(ctx, req.Step, *req.Project)
	default:
		return fmt.Errorf("deletion step %q has no target", req.Step)
	}
}

func (ds *deletionService) executeAssetStep(ctx context.Context, step string, p AssetDeletionParams) error {
	switch step {
	case StepDeleteVectors:
		filter := vectorindex.Filter{AssetID: strconv.Itoa(p.AssetID)}
		return ds.index.DeleteByFilter(ctx, p.ProjectUUID, filter)
	case StepDeleteChunkRows:
		_, err := ds.chunkRepo.DeleteByAsset(ctx, nil, p.AssetID)
		return err
	case StepDeleteObject:
		if p.StorageKey == "" {
			return nil
		}
		return ds.bucket.DeleteFile(ctx, p.StorageKey)
	case StepDeleteAssetRow:
		_, err := ds.assetRepo.DeleteByID(ctx, nil, p.AssetID)
		return err
	default:
		return fmt.Errorf("unknown asset deletion step %q", step)
	}
}

func (ds *deletionService) executeProjectStep(ctx context.Context, step string, p ProjectDeletionParams) error {
	switch step {
	case StepDropCollection:
		return ds.index.DropCollection(ctx, p.ProjectUUID)
	case StepDeleteChunkRows:
		_, err := ds.chunkRepo.DeleteByProject(ctx, nil, p.ProjectID)
		return err
	case StepDeleteAssetRows:
		_, err := ds.assetRepo.DeleteByProject(ctx, nil, p.ProjectID)
		return err
	case StepDeleteObjects:
		return ds.bucket.DeletePrefix(ctx, gcs.ProjectPrefix(p.ProjectUUID.String()))
	case StepDeleteProjectRow:
		_, err := ds.projectRepo.DeleteByID(ctx, nil, p.ProjectID)
		return err
	default:
		return fmt.Errorf("unknown project deletion step %q", step)
	}
}

func (ds *deletionService) runSteps(ctx context.Context, scope string, steps []DeletionStepRequest) (*DeletionReport, error) {
	report := &DeletionReport{Succeeded: true}
	for _, step := range steps {
		result := DeletionStep{Step: step.Step, OK: true}
		if err := ds.ExecuteStep(ctx, step); err != nil {
			result.OK = false
			result.Detail = err.Error()
			report.Succeeded = false
			ds.log.Warn("Deletion step failed",
				"scope", scope,
				"step", step.Step,
				"error", err,
			)
		}
		report.Steps = append(report.Steps, result)
	}
	if !report.Succeeded {
		failed := failedStepNames(report.Steps)
		return report, apierr.DeletionIncomplete(fmt.Errorf("%s deletion incomplete, failed steps: %s", scope, strings.Join(failed, ", ")))
	}
	return report, nil
}

func failedStepNames(steps []DeletionStep) []string {
	failed := make([]string, 0, len(steps))
	for _, s := range steps {
		if !s.OK {
			failed = append(failed, s.Step)
		}
	}
	return failed
}

func (ds *deletionService) DeleteAsset(ctx context.Context, userID int, projectCode int, assetID int) (*DeletionReport, error) {
	project, err := ds.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}
	asset, err := ds.assetRepo.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("fetch asset: %w", err))
	}
	if asset == nil || asset.ProjectID != project.ProjectID {
		return nil, apierr.NotFound(fmt.Errorf("asset %d not found", assetID))
	}

	params := AssetDeletionParams{
		ProjectID:   project.ProjectID,
		ProjectUUID: project.ProjectUUID,
		AssetID:     asset.AssetID,
		StorageKey:  asset.StorageKey,
	}
	if ds.durableEnabled() {
		workflowID := fmt.Sprintf("asset_delete_p%d_a%d", project.ProjectID, asset.AssetID)
		return ds.runDurable(ctx, "asset_delete", workflowID, params)
	}

	report, err := ds.runSteps(ctx, "asset", AssetDeletionSteps(params))
	if err == nil {
		ds.log.Info("Asset deleted", "project_id", project.ProjectID, "asset_id", asset.AssetID)
	}
	return report, err
}

func (ds *deletionService) DeleteProject(ctx context.Context, userID int, projectCode int) (*DeletionReport, error) {
	project, err := ds.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	params := ProjectDeletionParams{
		ProjectID:   project.ProjectID,
		ProjectUUID: project.ProjectUUID,
	}
	if ds.durableEnabled() {
		workflowID := fmt.Sprintf("project_delete_p%d", project.ProjectID)
		return ds.runDurable(ctx, "project_delete", workflowID, params)
	}

	report, err := ds.runSteps(ctx, "project", ProjectDeletionSteps(params))
	if err == nil {
		ds.log.Info("Project deleted", "project_id", project.ProjectID, "project_code", projectCode)
	}
	return report, err
}

// durableEnabled routes sagas through the workflow engine. Off by default:
// ownership is already resolved by then, and the in-process path needs no
// worker fleet.
func (ds *deletionService) durableEnabled() bool {
	if ds.temporal == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(os.Getenv("TEMPORAL_DELETION_ENABLED")), "true")
}

// runDurable starts the named workflow and waits for its report, so the
// caller sees the same contract as the in-process path. The workflow
// retries individual steps before marking them failed.
func (ds *deletionService) runDurable(ctx context.Context, workflowName, workflowID string, params any) (*DeletionReport, error) {
	tq := strings.TrimSpace(ds.temporalTaskQueue)
	if tq == "" {
		tq = "minirag"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	run, err := ds.temporal.ExecuteWorkflow(ctx, opts, workflowName, params)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("start %s workflow: %w", workflowName, err))
	}
	var report DeletionReport
	if err := run.Get(ctx, &report); err != nil {
		return nil, apierr.Internal(fmt.Errorf("%s workflow: %w", workflowName, err))
	}
	if !report.Succeeded {
		failed := failedStepNames(report.Steps)
		return &report, apierr.DeletionIncomplete(fmt.Errorf("deletion incomplete, failed steps: %s", strings.Join(failed, ", ")))
	}
	ds.log.Info("Durable deletion finished", "workflow", workflowName, "workflow_id", workflowID)
	return &report, nil
}

// Sweep drops collections whose project row no longer exists. Such
// collections appear when a project deletion fails after the row delete or
// when a crash lands between saga steps. A collection with an unexpected
// dimension belongs to an earlier deployment generation and is skipped, not
// guessed at.
func (ds *deletionService) Sweep(ctx context.Context) (*SweepReport, error) {
	names, err := ds.index.ListCollections(ctx)
	if err != nil {
		return nil, indexError(fmt.Errorf("list collections: %w", err))
	}

	known, err := ds.projectRepo.ListUUIDs(ctx, nil)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("list project uuids: %w", err))
	}
	knownSet := make(map[uuid.UUID]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}

	report := &SweepReport{ScannedCollections: len(names)}
	for _, name := range names {
		projectID, ok := vectorindex.ParseCollectionName(name)
		if !ok {
			report.SkippedCollections = append(report.SkippedCollections, name)
			continue
		}
		if knownSet[projectID] {
			continue
		}
		if vectorindex.CollectionName(ds.vectorDim, projectID) != name {
			report.SkippedCollections = append(report.SkippedCollections, name)
			continue
		}
		if err := ds.index.DropCollection(ctx, projectID); err != nil {
			report.FailedCollections = append(report.FailedCollections, name)
			ds.log.Warn("Orphan collection drop failed", "collection", name, "error", err)
			continue
		}
		report.DroppedCollections = append(report.DroppedCollections, name)
		ds.log.Info("Dropped orphan collection", "collection", name)
	}
	return report, nil
}
