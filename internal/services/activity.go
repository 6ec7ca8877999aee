package services

import (
	"sync/atomic"
	"time"

	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLog writes group feed entries through a buffered queue. Appends are
// fire-and-forget: a full queue drops the entry with a warning and insert
// failures are logged, never surfaced to the triggering operation.
type ActivityLog struct {
	DB      *gorm.DB
	queue   chan models.GroupActivity
	pending int64
}

func NewActivityLog(db *gorm.DB) *ActivityLog {
	s := &ActivityLog{
		DB:    db,
		queue: make(chan models.GroupActivity, 256),
	}
	go s.processQueue()
	return s
}

func (s *ActivityLog) Append(groupID uuid.UUID, message string) {
	row := models.GroupActivity{
		GroupID:   groupID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	atomic.AddInt64(&s.pending, 1)
	select {
	case s.queue <- row:
	default:
		atomic.AddInt64(&s.pending, -1)
		logger.Warn("activity_queue_full", map[string]interface{}{
			"group_id": groupID.String(),
			"dropped":  true,
		})
	}
}

// Recent returns the newest feed entries for a group.
func (s *ActivityLog) Recent(groupID uuid.UUID, limit int) ([]models.GroupActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.GroupActivity
	err := s.DB.Where("group_id = ?", groupID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Flush blocks until every queued entry has been written. Test helper.
func (s *ActivityLog) Flush() {
	for atomic.LoadInt64(&s.pending) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *ActivityLog) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("activity_insert_failed", err, map[string]interface{}{
				"group_id": row.GroupID.String(),
			})
		}
		atomic.AddInt64(&s.pending, -1)
	}
}
