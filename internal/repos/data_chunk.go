package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/yungbote/minirag-backend/internal/platform/logger"
  "github.com/yungbote/minirag-backend/internal/types"
)

type DataChunkRepo interface {
  Create(ctx context.Context, tx *gorm.DB, chunks []*types.DataChunk) ([]*types.DataChunk, error)
  GetByAsset(ctx context.Context, tx *gorm.DB, assetID int) ([]*types.DataChunk, error)
  GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.DataChunk, error)
  GetByUUIDs(ctx context.Context, tx *gorm.DB, uuids []uuid.UUID) ([]*types.DataChunk, error)
  MaxSequenceForAsset(ctx context.Context, tx *gorm.DB, assetID int) (int, error)
  CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error)
  DeleteByAsset(ctx context.Context, tx *gorm.DB, assetID int) (int64, error)
  DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error)
}

type dataChunkRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewDataChunkRepo(db *gorm.DB, baseLog *logger.Logger) DataChunkRepo {
  repoLog := baseLog.With("repo", "DataChunkRepo")
  return &dataChunkRepo{db: db, log: repoLog}
}

func (cr *dataChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.DataChunk) ([]*types.DataChunk, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }
  if len(chunks) == 0 {
    return []*types.DataChunk{}, nil
  }

  // Keep batches small because Text is large
  const batchSize = 100

  if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
    return nil, err
  }
  return chunks, nil
}

func (cr *dataChunkRepo) GetByAsset(ctx context.Context, tx *gorm.DB, assetID int) ([]*types.DataChunk, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  var results []*types.DataChunk
  if err := transaction.WithContext(ctx).
    Where("asset_id = ?", assetID).
    Order("sequence ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (cr *dataChunkRepo) GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.DataChunk, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  var results []*types.DataChunk
  if err := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    Order("asset_id ASC, sequence ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (cr *dataChunkRepo) GetByUUIDs(ctx context.Context, tx *gorm.DB, uuids []uuid.UUID) ([]*types.DataChunk, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  var results []*types.DataChunk
  if len(uuids) == 0 {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("chunk_uuid IN ?", uuids).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (cr *dataChunkRepo) MaxSequenceForAsset(ctx context.Context, tx *gorm.DB, assetID int) (int, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  var max int
  if err := transaction.WithContext(ctx).
    Model(&types.DataChunk{}).
    Where("asset_id = ?", assetID).
    Select("COALESCE(MAX(sequence), 0)").
    Scan(&max).Error; err != nil {
    return 0, err
  }
  return max, nil
}

func (cr *dataChunkRepo) CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  var count int64
  if err := transaction.WithContext(ctx).
    Model(&types.DataChunk{}).
    Where("project_id = ?", projectID).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}

func (cr *dataChunkRepo) DeleteByAsset(ctx context.Context, tx *gorm.DB, assetID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  result := transaction.WithContext(ctx).
    Where("asset_id = ?", assetID).
    Delete(&types.DataChunk{})
  return result.RowsAffected, result.Error
}

func (cr *dataChunkRepo) DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = cr.db
  }

  result := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    Delete(&types.DataChunk{})
  return result.RowsAffected, result.Error
}
