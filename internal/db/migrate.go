package db

import (
	"fmt"

	"github.com/zulandar/docyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by Docyard.
func AllModels() []interface{} {
	return []interface{}{
		&models.Document{},
		&models.ProcessingJob{},
		&models.QueueTask{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
