package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("automigrate catalog: %w", err)
	}
	return nil
}
