package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReconcileRunStatus string

const (
	ReconcileRunStatusRunning   ReconcileRunStatus = "running"
	ReconcileRunStatusCompleted ReconcileRunStatus = "completed"
	ReconcileRunStatusPartial   ReconcileRunStatus = "partial"
)

// ReconcileRun records one execution of the deceased-detection batch. Partial
// means some lookups failed; the run still covered every group it could reach.
type ReconcileRun struct {
	ID                uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	Status            ReconcileRunStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	StartedAt         time.Time          `json:"startedAt" gorm:"not null"`
	FinishedAt        *time.Time         `json:"finishedAt,omitempty"`
	GroupsProcessed   int                `json:"groupsProcessed" gorm:"not null;default:0"`
	SelectionsChecked int                `json:"selectionsChecked" gorm:"not null;default:0"`
	Deceased          int                `json:"deceased" gorm:"not null;default:0"`
	Failures          int                `json:"failures" gorm:"not null;default:0"`
}

func (r *ReconcileRun) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return nil
}

func (ReconcileRun) TableName() string {
	return "reconcile_runs"
}
