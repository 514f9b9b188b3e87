package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/chatcore-backend/internal/domain/chat"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(chat.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
