package app

import (
	"context"
	"fmt"

	"github.com/yungbote/chatcore-backend/internal/data/db"
	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/services"
)

// Migrate creates or updates the schema and exits.
func Migrate(cfg Config, log *logger.Logger) error {
	theDB, err := OpenDatabase(cfg, log)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if sqlDB, err := theDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		return err
	}
	log.Info("Schema migrated", "driver", cfg.DatabaseDriver)
	return nil
}

// SweepAttachments runs one orphan sweep against the configured database
// and object store.
func SweepAttachments(ctx context.Context, cfg Config, log *logger.Logger) (services.SweepResult, error) {
	theDB, err := OpenDatabase(cfg, log)
	if err != nil {
		return services.SweepResult{}, fmt.Errorf("init database: %w", err)
	}
	if sqlDB, err := theDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	blobs, err := resolveBlobStore(ctx, log, cfg)
	if err != nil {
		return services.SweepResult{}, err
	}
	defer blobs.Close()

	attachments := services.NewAttachmentService(theDB, log, chatrepo.NewAttachmentRepo(theDB, log), blobs.Store, services.AttachmentConfig{
		MaxBytes:    cfg.AttachmentMaxBytes,
		OrphanGrace: cfg.AttachmentOrphanGrace,
	})
	res, err := attachments.Sweep(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep attachments: %w", err)
	}
	log.Info("Attachment sweep finished", "rows", res.Rows, "blobs", res.Blobs)
	return res, nil
}
