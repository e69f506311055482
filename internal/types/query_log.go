package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type QueryLog struct {
	LogID          int            `gorm:"column:log_id;primaryKey;autoIncrement" json:"log_id"`
	LogUUID        uuid.UUID      `gorm:"type:uuid;column:log_uuid;default:uuid_generate_v4();uniqueIndex;not null" json:"log_uuid"`
	UserID         int            `gorm:"column:user_id;not null;index" json:"user_id"`
	User           *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:UserID" json:"user,omitempty"`
	ProjectID      int            `gorm:"column:project_id;not null;index" json:"project_id"`
	Project        *Project       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ProjectID" json:"project,omitempty"`
	Question       string         `gorm:"column:question;not null" json:"question"`
	LLMResponse    string         `gorm:"column:llm_response;not null" json:"llm_response"`
	ResponseTimeMs float64        `gorm:"column:response_time_ms;not null" json:"response_time_ms"`
	CitedChunkIDs  datatypes.JSON `gorm:"type:jsonb;column:cited_chunk_ids" json:"cited_chunk_ids"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (QueryLog) TableName() string { return "query_log" }
