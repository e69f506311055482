package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/types"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		UserUUID:       uuid.New(),
		Email:          email,
		HashedPassword: "pw",
		IsActive:       true,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedProject(tb testing.TB, ctx context.Context, tx *gorm.DB, userID int, projectCode int) *types.Project {
	tb.Helper()
	p := &types.Project{
		ProjectUUID: uuid.New(),
		UserID:      userID,
		ProjectCode: projectCode,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	return p
}

func SeedAsset(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID int, name string) *types.Asset {
	tb.Helper()
	a := &types.Asset{
		ProjectID:   projectID,
		Type:        types.AssetTypeFile,
		Name:        name,
		SizeBytes:   int64(len(name)),
		ContentType: "text/plain",
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return a
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID, assetID, sequence int, text string) *types.DataChunk {
	tb.Helper()
	c := &types.DataChunk{
		ChunkUUID: uuid.New(),
		ProjectID: projectID,
		AssetID:   assetID,
		Sequence:  sequence,
		Text:      text,
		Metadata:  datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

func SeedQueryLog(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, projectID int, question string) *types.QueryLog {
	tb.Helper()
	q := &types.QueryLog{
		LogUUID:        uuid.New(),
		UserID:         userID,
		ProjectID:      projectID,
		Question:       question,
		LLMResponse:    "answer",
		ResponseTimeMs: 12.5,
		CitedChunkIDs:  datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(q).Error; err != nil {
		tb.Fatalf("seed query log: %v", err)
	}
	return q
}
