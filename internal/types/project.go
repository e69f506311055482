package types

import (
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ProjectID int `gorm:"column:project_id;primaryKey;autoIncrement" json:"project_id"`
	// ProjectUUID names the project's vector collection; it is assigned once
	// and never reassigned, even if the user-facing code changes.
	ProjectUUID uuid.UUID `gorm:"type:uuid;column:project_uuid;default:uuid_generate_v4();uniqueIndex;not null" json:"project_uuid"`
	UserID      int       `gorm:"column:user_id;not null;uniqueIndex:ux_project_user_code" json:"user_id"`
	User        *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:UserID" json:"user,omitempty"`
	ProjectCode int       `gorm:"column:project_code;not null;uniqueIndex:ux_project_user_code" json:"project_code"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Project) TableName() string { return "project" }
