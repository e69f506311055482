package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DataChunk struct {
	ChunkID int `gorm:"column:chunk_id;primaryKey;autoIncrement" json:"chunk_id"`
	// ChunkUUID doubles as the vector point id, so re-ingesting the same
	// chunk row overwrites its vector instead of duplicating it.
	ChunkUUID uuid.UUID      `gorm:"type:uuid;column:chunk_uuid;default:uuid_generate_v4();uniqueIndex;not null" json:"chunk_uuid"`
	ProjectID int            `gorm:"column:project_id;not null;index" json:"project_id"`
	Project   *Project       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ProjectID" json:"project,omitempty"`
	AssetID   int            `gorm:"column:asset_id;not null;index" json:"asset_id"`
	Asset     *Asset         `gorm:"constraint:OnDelete:CASCADE;foreignKey:AssetID;references:AssetID" json:"asset,omitempty"`
	Sequence  int            `gorm:"column:sequence;not null" json:"sequence"`
	Text      string         `gorm:"column:text;not null" json:"text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (DataChunk) TableName() string { return "data_chunk" }
