package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

const (
	DefaultMaxAttachmentBytes = 20 << 20
	DefaultOrphanGrace        = time.Hour
	cleanupParallelism        = 4
	sweepBatchSize            = 200
)

type UploadInput struct {
	OwnerID     uuid.UUID
	Filename    string
	ContentType string
	Body        io.Reader
}

type SweepResult struct {
	Rows  int `json:"rows"`
	Blobs int `json:"blobs"`
}

type AttachmentService interface {
	Upload(dbc dbctx.Context, in UploadInput) (*domain.Attachment, error)
	// Cleanup deletes each attachment that has no message references. A
	// referenced attachment is left alone. Returns how many were deleted.
	Cleanup(ctx context.Context, attachmentIDs []uuid.UUID) (int, error)
	// Sweep cleans unreferenced attachments older than the grace period and
	// blobs that never got an attachment row.
	Sweep(ctx context.Context) (SweepResult, error)
}

type AttachmentConfig struct {
	MaxBytes    int64
	OrphanGrace time.Duration
}

type attachmentService struct {
	db          *gorm.DB
	log         *logger.Logger
	attachments chatrepo.AttachmentRepo
	store       blob.Store
	maxBytes    int64
	grace       time.Duration
	now         func() time.Time
}

func NewAttachmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	attachments chatrepo.AttachmentRepo,
	store blob.Store,
	cfg AttachmentConfig,
) AttachmentService {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxAttachmentBytes
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = DefaultOrphanGrace
	}
	return &attachmentService{
		db:          db,
		log:         baseLog.With("service", "AttachmentService"),
		attachments: attachments,
		store:       store,
		maxBytes:    cfg.MaxBytes,
		grace:       cfg.OrphanGrace,
		now:         time.Now,
	}
}

func (s *attachmentService) Upload(dbc dbctx.Context, in UploadInput) (*domain.Attachment, error) {
	if err := requireUser(in.OwnerID); err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, apierr.Validation("missing file body")
	}
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(in.Filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return nil, apierr.Validation("missing file name")
	}
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := blob.ContentTypeForKey(name); guessed != "" {
			contentType = guessed
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := blob.NewAttachmentKey(in.OwnerID, name)
	obj, err := s.store.Upload(dbc.Ctx, key, contentType, io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return nil, apierr.StoreUnavailable("upload attachment", err)
	}
	if obj.Size > s.maxBytes {
		s.deleteBlob(dbc.Ctx, key)
		return nil, apierr.Validation("attachment larger than %d bytes", s.maxBytes)
	}
	if obj.Size == 0 {
		s.deleteBlob(dbc.Ctx, key)
		return nil, apierr.Validation("attachment is empty")
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	row := &domain.Attachment{
		ID:          uuid.New(),
		OwnerUserID: in.OwnerID,
		URL:         obj.URL,
		ObjectKey:   key,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   obj.Size,
		Status:      domain.AttachmentLive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.attachments.Create(dbc, row); err != nil {
		s.deleteBlob(dbc.Ctx, key)
		return nil, err
	}
	s.log.Info("attachment uploaded", "attachment_id", row.ID, "owner_id", in.OwnerID, "size_bytes", row.SizeBytes)
	return row, nil
}

func (s *attachmentService) deleteBlob(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("discard uploaded blob failed; sweep will retry", "key", key, "error", err)
	}
}

func (s *attachmentService) Cleanup(ctx context.Context, attachmentIDs []uuid.UUID) (int, error) {
	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupParallelism)
	for _, id := range dedupeIDs(attachmentIDs) {
		g.Go(func() error {
			ok, err := s.cleanupOne(gctx, id)
			if err != nil {
				return fmt.Errorf("cleanup attachment %s: %w", id, err)
			}
			if ok {
				deleted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(deleted.Load()), err
}

// cleanupOne re-checks references under the row lock and marks the row
// deleting before touching the blob, so an append that races with cleanup
// either wins the lock first (and the count is non-zero) or sees a row that
// is no longer live.
func (s *attachmentService) cleanupOne(ctx context.Context, id uuid.UUID) (bool, error) {
	var target *domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := s.attachments.LockByID(dbc, id)
		if err != nil {
			return err
		}
		refs, err := s.attachments.CountRefs(dbc, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return nil
		}
		if row.Status != domain.AttachmentDeleting {
			if err := s.attachments.SetStatus(dbc, id, domain.AttachmentDeleting); err != nil {
				return err
			}
		}
		target = row
		return nil
	})
	if errors.Is(err, apierr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("lock attachment", err)
	}
	if target == nil {
		return false, nil
	}

	if err := s.store.Delete(ctx, target.ObjectKey); err != nil {
		return false, apierr.StoreUnavailable("delete blob", err)
	}
	if err := s.attachments.Delete(dbctx.Context{Ctx: ctx}, id); err != nil {
		return false, err
	}
	s.log.Info("attachment deleted", "attachment_id", id, "owner_id", target.OwnerUserID)
	return true, nil
}

func (s *attachmentService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().UTC().Add(-s.grace)

	ids, err := s.attachments.ListCleanupCandidates(dbctx.Context{Ctx: ctx}, cutoff, sweepBatchSize)
	if err != nil {
		return res, err
	}
	n, err := s.Cleanup(ctx, ids)
	res.Rows = n
	if err != nil {
		return res, err
	}

	blobs, err := s.sweepStrayBlobs(ctx, cutoff)
	res.Blobs = blobs
	if err != nil {
		return res, err
	}
	if res.Rows > 0 || res.Blobs > 0 {
		s.log.Info("attachment sweep finished", "rows", res.Rows, "blobs", res.Blobs)
	}
	return res, nil
}

// sweepStrayBlobs removes blobs left behind by uploads whose row was never
// written.
func (s *attachmentService) sweepStrayBlobs(ctx context.Context, cutoff time.Time) (int, error) {
	objects, err := s.store.List(ctx, blob.AttachmentPrefix)
	if err != nil {
		return 0, apierr.StoreUnavailable("list blobs", err)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		if !o.Updated.IsZero() && o.Updated.Before(cutoff) {
			keys = append(keys, o.Key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(keys); start += sweepBatchSize {
		end := start + sweepBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		known, err := s.attachments.KnownObjectKeys(dbctx.Context{Ctx: ctx}, batch)
		if err != nil {
			return deleted, err
		}
		for _, k := range batch {
			if known[k] {
				continue
			}
			if err := s.store.Delete(ctx, k); err != nil {
				return deleted, apierr.StoreUnavailable("delete blob", err)
			}
			deleted++
		}
	}
	return deleted, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
