package models

import (
	"time"

	"github.com/google/uuid"
)

type GroupStatus string

const (
	GroupStatusDraft     GroupStatus = "draft"
	GroupStatusActive    GroupStatus = "active"
	GroupStatusFinalized GroupStatus = "finalized"
)

type Group struct {
	BaseModel
	Name          string      `json:"name" gorm:"type:varchar(255);not null"`
	Description   string      `json:"description" gorm:"type:text;not null"`
	Status        GroupStatus `json:"status" gorm:"type:varchar(20);not null;default:'draft';index"`
	Deadline      time.Time   `json:"deadline" gorm:"not null"`
	MaxSelections int         `json:"maxSelections" gorm:"not null"`
	CreatedByID   uuid.UUID   `json:"createdByID" gorm:"type:uuid;not null"`

	CreatedBy   User         `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID"`
	Memberships []Membership `json:"memberships,omitempty" gorm:"foreignKey:GroupID"`
}

// Overtime reports whether the official window has closed while the group is
// still accepting edits. Edits succeed until an admin seals the lists.
func (g *Group) Overtime(now time.Time) bool {
	return g.Status == GroupStatusDraft && !now.Before(g.Deadline)
}

// Editable reports whether member lists may still be written.
func (g *Group) Editable() bool {
	return g.Status == GroupStatusDraft
}
