package types

import (
	"time"
)

const AssetTypeFile = "file"

type Asset struct {
	AssetID     int       `gorm:"column:asset_id;primaryKey;autoIncrement" json:"asset_id"`
	ProjectID   int       `gorm:"column:project_id;not null;index" json:"project_id"`
	Project     *Project  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ProjectID" json:"project,omitempty"`
	Type        string    `gorm:"column:type;not null;default:'file'" json:"type"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	SizeBytes   int64     `gorm:"column:size_bytes" json:"size_bytes"`
	ContentType string    `gorm:"column:content_type" json:"content_type"`
	StorageKey  string    `gorm:"column:storage_key" json:"storage_key"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Asset) TableName() string { return "asset" }
