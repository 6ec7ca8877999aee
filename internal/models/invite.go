package models

import (
	"time"

	"github.com/google/uuid"
)

// Invite is a single-use join token bound to exactly one group. Once used it
// is immutable and can never be redeemed again.
type Invite struct {
	BaseModel
	GroupID     uuid.UUID  `json:"groupID" gorm:"type:uuid;not null;index"`
	Token       string     `json:"token" gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedByID uuid.UUID  `json:"createdByID" gorm:"type:uuid;not null"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"not null"`
	Used        bool       `json:"used" gorm:"not null;default:false"`
	UsedByID    *uuid.UUID `json:"usedByID,omitempty" gorm:"type:uuid"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
}
