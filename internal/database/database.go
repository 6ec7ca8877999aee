package database

import (
	"fmt"

	"github.com/deathlist/backend/internal/config"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/sethvargo/go-password/password"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.Selection{},
		&models.Invite{},
		&models.GroupActivity{},
		&models.ReconcileRun{},
	)
}

// seedAdminUser creates the initial admin account on an empty database. The
// generated password is logged exactly once; it must be changed after first
// login.
func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	generated, err := password.Generate(20, 4, 0, false, false)
	if err != nil {
		return err
	}

	hash, err := utils.HashPassword(generated)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@deathlist.local",
		PasswordHash: hash,
		DisplayName:  "System Admin",
		Role:         models.UserRoleAdmin,
	}

	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	logger.Info("admin_user_seeded", map[string]interface{}{
		"email":    admin.Email,
		"password": generated,
	})

	return nil
}
