package repos

import (
  "context"
  "errors"

  "github.com/google/uuid"
  "github.com/jackc/pgx/v5/pgconn"
  "gorm.io/gorm"

  "github.com/yungbote/minirag-backend/internal/platform/logger"
  "github.com/yungbote/minirag-backend/internal/types"
)

type ProjectRepo interface {
  Create(ctx context.Context, tx *gorm.DB, projects []*types.Project) ([]*types.Project, error)
  GetOrCreate(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, bool, error)
  GetByUserAndCode(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, error)
  GetByID(ctx context.Context, tx *gorm.DB, projectID int) (*types.Project, error)
  ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.Project, int64, error)
  ListUUIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error)
  DeleteByID(ctx context.Context, tx *gorm.DB, projectID int) (int64, error)
}

type projectRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
  repoLog := baseLog.With("repo", "ProjectRepo")
  return &projectRepo{db: db, log: repoLog}
}

func (pr *projectRepo) Create(ctx context.Context, tx *gorm.DB, projects []*types.Project) ([]*types.Project, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  if len(projects) == 0 {
    return []*types.Project{}, nil
  }

  if err := transaction.WithContext(ctx).Create(&projects).Error; err != nil {
    return nil, err
  }

  return projects, nil
}

func (pr *projectRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, bool, error) {
  existing, err := pr.GetByUserAndCode(ctx, tx, userID, projectCode)
  if err != nil {
    return nil, false, err
  }
  if existing != nil {
    return existing, false, nil
  }

  project := &types.Project{UserID: userID, ProjectCode: projectCode}
  if _, err := pr.Create(ctx, tx, []*types.Project{project}); err != nil {
    // Lost a create race; the winner's row is the project.
    if isUniqueViolation(err) {
      again, gerr := pr.GetByUserAndCode(ctx, tx, userID, projectCode)
      if gerr != nil {
        return nil, false, gerr
      }
      if again != nil {
        return again, false, nil
      }
    }
    return nil, false, err
  }

  return project, true, nil
}

func (pr *projectRepo) GetByUserAndCode(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  var result types.Project
  err := transaction.WithContext(ctx).
    Where("user_id = ? AND project_code = ?", userID, projectCode).
    First(&result).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &result, nil
}

func (pr *projectRepo) GetByID(ctx context.Context, tx *gorm.DB, projectID int) (*types.Project, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  var result types.Project
  err := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    First(&result).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &result, nil
}

func (pr *projectRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.Project, int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  if page < 1 {
    page = 1
  }
  if pageSize < 1 {
    pageSize = 10
  }

  var total int64
  if err := transaction.WithContext(ctx).
    Model(&types.Project{}).
    Where("user_id = ?", userID).
    Count(&total).Error; err != nil {
    return nil, 0, err
  }

  var results []*types.Project
  if err := transaction.WithContext(ctx).
    Where("user_id = ?", userID).
    Order("project_id ASC").
    Offset((page - 1) * pageSize).
    Limit(pageSize).
    Find(&results).Error; err != nil {
    return nil, 0, err
  }

  return results, total, nil
}

func (pr *projectRepo) ListUUIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  var ids []uuid.UUID
  if err := transaction.WithContext(ctx).
    Model(&types.Project{}).
    Pluck("project_uuid", &ids).Error; err != nil {
    return nil, err
  }
  return ids, nil
}

func (pr *projectRepo) DeleteByID(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  result := transaction.WithContext(ctx).
    Where("project_id = ?", projectID).
    Delete(&types.Project{})
  return result.RowsAffected, result.Error
}

func isUniqueViolation(err error) bool {
  var pgErr *pgconn.PgError
  return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
