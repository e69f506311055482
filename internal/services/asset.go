package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/types"
	"github.com/yungbote/minirag-backend/internal/utils"
)

// AssetService accepts raw uploads and serves stored bytes back. Uploaded
// names are rewritten to a random-prefixed form so two uploads of the same
// filename never collide inside a project; the rewritten name is what
// process requests later refer to.
type AssetService interface {
	Upload(ctx context.Context, userID int, projectCode int, file UploadedFile) (*types.Asset, error)
	GetOwned(ctx context.Context, userID int, projectCode int, assetID int) (*types.Asset, error)
	FileContent(ctx context.Context, userID int, projectCode int, assetID int) (*types.Asset, []byte, error)
}

type UploadedFile struct {
	OriginalName string
	ContentType  string
	SizeBytes    int64
	Reader       io.Reader
}

type assetService struct {
	db             *gorm.DB
	log            *logger.Logger
	assetRepo      repos.AssetRepo
	projectService ProjectService
	bucket         gcs.BucketService
	allowedTypes   map[string]bool
	maxSizeBytes   int64
}

func NewAssetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assetRepo repos.AssetRepo,
	projectService ProjectService,
	bucket gcs.BucketService,
) AssetService {
	serviceLog := baseLog.With("service", "AssetService")

	allowed := map[string]bool{}
	raw := utils.GetEnv("ASSET_ALLOWED_TYPES", "text/plain,application/pdf", baseLog)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowed[t] = true
		}
	}
	maxSizeMB := utils.GetEnvAsInt("ASSET_MAX_SIZE_MB", 10, baseLog)
	if maxSizeMB < 1 {
		maxSizeMB = 10
	}

	return &assetService{
		db:             db,
		log:            serviceLog,
		assetRepo:      assetRepo,
		projectService: projectService,
		bucket:         bucket,
		allowedTypes:   allowed,
		maxSizeBytes:   int64(maxSizeMB) * 1024 * 1024,
	}
}

func (s *assetService) Upload(ctx context.Context, userID int, projectCode int, file UploadedFile) (*types.Asset, error) {
	project, err := s.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	if !s.allowedTypes[contentType] {
		return nil, apierr.InvalidInput(fmt.Errorf("unsupported content type %q", file.ContentType))
	}
	if file.SizeBytes > s.maxSizeBytes {
		return nil, apierr.InvalidInput(fmt.Errorf("file exceeds maximum size of %d bytes", s.maxSizeBytes))
	}
	if file.Reader == nil {
		return nil, apierr.InvalidInput(fmt.Errorf("missing file body"))
	}

	asset := &types.Asset{
		ProjectID:   project.ProjectID,
		Type:        types.AssetTypeFile,
		Name:        uniqueAssetName(file.OriginalName),
		SizeBytes:   file.SizeBytes,
		ContentType: contentType,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.assetRepo.Create(ctx, tx, []*types.Asset{asset}); err != nil {
			return fmt.Errorf("create asset row: %w", err)
		}
		key := gcs.AssetKey(project.ProjectUUID.String(), asset.AssetID)
		if err := s.bucket.UploadFile(ctx, key, file.Reader, contentType); err != nil {
			return fmt.Errorf("store asset bytes: %w", err)
		}
		if err := tx.Model(asset).Update("storage_key", key).Error; err != nil {
			return fmt.Errorf("record storage key: %w", err)
		}
		asset.StorageKey = key
		return nil
	})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("upload asset: %w", err))
	}

	s.log.Info("Asset uploaded",
		"project_id", project.ProjectID,
		"asset_id", asset.AssetID,
		"size_bytes", asset.SizeBytes,
	)
	return asset, nil
}

func (s *assetService) GetOwned(ctx context.Context, userID int, projectCode int, assetID int) (*types.Asset, error) {
	project, err := s.projectService.GetOwned(ctx, userID, projectCode)
	if err != nil {
		return nil, err
	}

	asset, err := s.assetRepo.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("fetch asset: %w", err))
	}
	if asset == nil || asset.ProjectID != project.ProjectID {
		return nil, apierr.NotFound(fmt.Errorf("asset %d not found", assetID))
	}
	return asset, nil
}

func (s *assetService) FileContent(ctx context.Context, userID int, projectCode int, assetID int) (*types.Asset, []byte, error) {
	asset, err := s.GetOwned(ctx, userID, projectCode, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.StorageKey == "" {
		return nil, nil, apierr.NotFound(fmt.Errorf("asset %d has no stored content", assetID))
	}

	data, err := s.bucket.DownloadFile(ctx, asset.StorageKey)
	if err != nil {
		return nil, nil, apierr.Internal(fmt.Errorf("read asset bytes: %w", err))
	}
	if data == nil {
		return nil, nil, apierr.NotFound(fmt.Errorf("asset %d content is missing", assetID))
	}
	return asset, data, nil
}

// uniqueAssetName prefixes the sanitized original filename with a random
// token. The stored name is stable for the asset's lifetime and is the
// handle process requests use to target a single file.
func uniqueAssetName(original string) string {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return token + "_" + sanitizeFileName(original)
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
