package database

import (
	"fmt"

	"gorm.io/gorm"

	"propmarket/server/internal/models"
)

// MigrateSchema creates or updates every table the sync engine reads or writes.
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Listing{},
		&models.PointOfInterest{},
		&models.ListingPOIDistance{},
		&models.AreaStat{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (d *Database) RunMigrations() error {
	return MigrateSchema(d.db)
}
