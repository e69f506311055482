package repos

import (
  "context"

  "gorm.io/gorm"

  "github.com/yungbote/minirag-backend/internal/platform/logger"
  "github.com/yungbote/minirag-backend/internal/types"
)

type QueryLogRepo interface {
  Create(ctx context.Context, tx *gorm.DB, logs []*types.QueryLog) ([]*types.QueryLog, error)
  ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.QueryLog, int64, error)
}

type queryLogRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewQueryLogRepo(db *gorm.DB, baseLog *logger.Logger) QueryLogRepo {
  repoLog := baseLog.With("repo", "QueryLogRepo")
  return &queryLogRepo{db: db, log: repoLog}
}

func (qr *queryLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.QueryLog) ([]*types.QueryLog, error) {
  transaction := tx
  if transaction == nil {
    transaction = qr.db
  }

  if len(logs) == 0 {
    return []*types.QueryLog{}, nil
  }

  if err := transaction.WithContext(ctx).Create(&logs).Error; err != nil {
    return nil, err
  }

  return logs, nil
}

func (qr *queryLogRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.QueryLog, int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = qr.db
  }

  if page < 1 {
    page = 1
  }
  if pageSize < 1 {
    pageSize = 10
  }

  var total int64
  if err := transaction.WithContext(ctx).
    Model(&types.QueryLog{}).
    Where("user_id = ?", userID).
    Count(&total).Error; err != nil {
    return nil, 0, err
  }

  var results []*types.QueryLog
  if err := transaction.WithContext(ctx).
    Where("user_id = ?", userID).
    Order("log_id DESC").
    Offset((page - 1) * pageSize).
    Limit(pageSize).
    Find(&results).Error; err != nil {
    return nil, 0, err
  }

  return results, total, nil
}
