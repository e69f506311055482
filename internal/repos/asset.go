package repos

import (
  "context"
  "errors"

  "gorm.io/gorm"

  "github.com/yungbote/minirag-backend/internal/platform/logger"
  "github.com/yungbote/minirag-backend/internal/types"
)

type AssetRepo interface {
  Create(ctx context.Context, tx *gorm.DB, assets []*types.Asset) ([]*types.Asset, error)
  GetByID(ctx context.Context, tx *gorm.DB, assetID int) (*types.Asset, error)
  GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.Asset, error)
  GetByProjectAndName(ctx context.Context, tx *gorm.DB, projectID int, name string) (*types.Asset, error)
  CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error)
  DeleteByID(ctx context.Context, tx *gorm.DB, assetID int) (int64, error)
  DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error)
}

type assetRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
  repoLog := baseLog.With("repo", "AssetRepo")
  return &assetRepo{db: db, log: repoLog}
}

func (ar *assetRepo) Create(ctx context.Context, tx *gorm.DB, assets []*types.Asset) ([]*types.Asset, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  if len(assets) == 0 {
    return []*types.Asset{}, nil
  }

  if err := transaction.WithContext(ctx).Create(&assets).Error; err != nil {
    return nil, err
  }

  return assets, nil
}

func (ar *assetRepo) GetByID(ctx context.Context, tx *gorm.DB, assetID int) (*types.Asset, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  var result types.Asset
  err := transaction.WithContext(ctx).
    Where("asset_id = ?", assetID).
    First(&result).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &result, nil
}

func (ar *assetRepo) GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.Asset, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  var results []*types.Asset
  if err := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    Order("asset_id ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (ar *assetRepo) GetByProjectAndName(ctx context.Context, tx *gorm.DB, projectID int, name string) (*types.Asset, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  var result types.Asset
  err := transaction.WithContext(ctx).
    Where("project_id = ? AND name = ?", projectID, name).
    First(&result).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &result, nil
}

func (ar *assetRepo) CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  var count int64
  if err := transaction.WithContext(ctx).
    Model(&types.Asset{}).
    Where("project_id = ?", projectID).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}

func (ar *assetRepo) DeleteByID(ctx context.Context, tx *gorm.DB, assetID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  result := transaction.WithContext(ctx).
    Where("asset_id = ?", assetID).
    Delete(&types.Asset{})
  return result.RowsAffected, result.Error
}

func (ar *assetRepo) DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = ar.db
  }

  result := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    Delete(&types.Asset{})
  return result.RowsAffected, result.Error
}
