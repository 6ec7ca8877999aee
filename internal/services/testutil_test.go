package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	logger.Init()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.Invite{},
		&models.GroupActivity{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	user := &models.User{
		Email:        fmt.Sprintf("%s@example.com", name),
		PasswordHash: "irrelevant",
		DisplayName:  name,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	return user
}

func seedGroup(t *testing.T, db *gorm.DB, creatorID uuid.UUID, role models.MembershipRole) *models.Group {
	t.Helper()

	group := &models.Group{
		Name:          "Pool",
		Description:   "pool",
		Status:        models.GroupStatusDraft,
		Deadline:      time.Now().UTC().Add(24 * time.Hour),
		MaxSelections: 5,
		CreatedByID:   creatorID,
	}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed creating group: %v", err)
	}

	membership := &models.Membership{
		GroupID:  group.ID,
		UserID:   creatorID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if err := db.Create(membership).Error; err != nil {
		t.Fatalf("failed creating membership: %v", err)
	}
	return group
}
