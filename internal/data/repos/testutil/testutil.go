package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/chatcore-backend/internal/data/db"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

// DB returns a migrated in-memory SQLite database private to tb.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	gdb, err := db.NewSQLite(dsn, nil)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

func SeedChat(tb testing.TB, gdb *gorm.DB, ownerID uuid.UUID, mutate func(c *domain.Chat)) *domain.Chat {
	tb.Helper()
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		Title:       domain.PlaceholderTitle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(c)
	}
	if err := gdb.WithContext(context.Background()).Create(c).Error; err != nil {
		tb.Fatalf("seed chat: %v", err)
	}
	return c
}

func SeedAttachment(tb testing.TB, gdb *gorm.DB, ownerID uuid.UUID, url string, createdAt time.Time) *domain.Attachment {
	tb.Helper()
	a := &domain.Attachment{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		URL:         url,
		ObjectKey:   "attachments/" + uuid.NewString(),
		ContentType: "image/png",
		Status:      domain.AttachmentLive,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   createdAt.UTC(),
	}
	if err := gdb.Create(a).Error; err != nil {
		tb.Fatalf("seed attachment: %v", err)
	}
	return a
}
