package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GroupActivity is one entry in a group's append-only event feed. It does NOT
// use BaseModel because feed rows are never updated or soft-deleted.
type GroupActivity struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	GroupID   uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index"`
}

func (a *GroupActivity) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (GroupActivity) TableName() string {
	return "group_activities"
}
