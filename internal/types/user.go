package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	UserID         int       `gorm:"column:user_id;primaryKey;autoIncrement" json:"user_id"`
	UserUUID       uuid.UUID `gorm:"type:uuid;column:user_uuid;default:uuid_generate_v4();uniqueIndex;not null" json:"user_uuid"`
	Email          string    `gorm:"size:255;uniqueIndex;not null;column:email" json:"email"`
	HashedPassword string    `gorm:"size:255;not null;column:hashed_password" json:"-"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	IsSuperuser    bool      `gorm:"column:is_superuser;not null;default:false" json:"is_superuser"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "user" }
