package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type AttachmentRepo interface {
	Create(dbc dbctx.Context, row *domain.Attachment) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error)
	GetByURL(dbc dbctx.Context, url string) (*domain.Attachment, error)
	ListIDsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	// KnownObjectKeys reports which of keys still have an attachment row.
	KnownObjectKeys(dbc dbctx.Context, keys []string) (map[string]bool, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error)
	// LockByURLs locks the rows for the given URLs. Missing URLs are simply absent from the result.
	LockByURLs(dbc dbctx.Context, urls []string) ([]*domain.Attachment, error)
	SetStatus(dbc dbctx.Context, id uuid.UUID, status domain.AttachmentStatus) error
	Delete(dbc dbctx.Context, id uuid.UUID) error

	AddRefs(dbc dbctx.Context, refs []*domain.MessageAttachment) error
	CountRefs(dbc dbctx.Context, attachmentID uuid.UUID) (int64, error)
	RefAttachmentIDsByChat(dbc dbctx.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	RefAttachmentIDsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) ([]uuid.UUID, error)
	RefsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) ([]*domain.MessageAttachment, error)
	DeleteRefsByChat(dbc dbctx.Context, chatID uuid.UUID) error
	DeleteRefsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) error

	// ListCleanupCandidates returns live attachments older than the cutoff with
	// no references, plus any row stuck in the deleting state.
	ListCleanupCandidates(dbc dbctx.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

type attachmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttachmentRepo(db *gorm.DB, log *logger.Logger) AttachmentRepo {
	return &attachmentRepo{db: db, log: log.With("repo", "AttachmentRepo")}
}

func (r *attachmentRepo) tx(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *attachmentRepo) Create(dbc dbctx.Context, row *domain.Attachment) error {
	if row == nil {
		return fmt.Errorf("nil attachment")
	}
	return mapErr("create attachment", "attachment", r.tx(dbc).Create(row).Error)
}

func (r *attachmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error) {
	var out domain.Attachment
	if err := r.tx(dbc).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, mapErr("get attachment", "attachment", err)
	}
	return &out, nil
}

func (r *attachmentRepo) GetByURL(dbc dbctx.Context, url string) (*domain.Attachment, error) {
	var out domain.Attachment
	if err := r.tx(dbc).Where("url = ?", url).Take(&out).Error; err != nil {
		return nil, mapErr("get attachment", "attachment", err)
	}
	return &out, nil
}

func (r *attachmentRepo) ListIDsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.tx(dbc).
		Model(&domain.Attachment{}).
		Where("owner_user_id = ?", ownerID).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, mapErr("list owner attachments", "attachment", err)
	}
	return ids, nil
}

func (r *attachmentRepo) KnownObjectKeys(dbc dbctx.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var found []string
	if err := r.tx(dbc).
		Model(&domain.Attachment{}).
		Where("object_key IN ?", keys).
		Pluck("object_key", &found).Error; err != nil {
		return nil, mapErr("lookup attachment keys", "attachment", err)
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

func (r *attachmentRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error) {
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out domain.Attachment
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, mapErr("lock attachment", "attachment", err)
	}
	return &out, nil
}

func (r *attachmentRepo) LockByURLs(dbc dbctx.Context, urls []string) ([]*domain.Attachment, error) {
	if len(urls) == 0 {
		return []*domain.Attachment{}, nil
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByURLs requires dbc.Tx")
	}
	var out []*domain.Attachment
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("url IN ?", urls).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, mapErr("lock attachments", "attachment", err)
	}
	return out, nil
}

func (r *attachmentRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status domain.AttachmentStatus) error {
	res := r.tx(dbc).
		Model(&domain.Attachment{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return mapErr("set attachment status", "attachment", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapErr("set attachment status", "attachment", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *attachmentRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return mapErr("delete attachment", "attachment", r.tx(dbc).Where("id = ?", id).Delete(&domain.Attachment{}).Error)
}

func (r *attachmentRepo) AddRefs(dbc dbctx.Context, refs []*domain.MessageAttachment) error {
	if len(refs) == 0 {
		return nil
	}
	return mapErr("add attachment refs", "attachment", r.tx(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&refs).Error)
}

func (r *attachmentRepo) CountRefs(dbc dbctx.Context, attachmentID uuid.UUID) (int64, error) {
	var n int64
	if err := r.tx(dbc).
		Model(&domain.MessageAttachment{}).
		Where("attachment_id = ?", attachmentID).
		Count(&n).Error; err != nil {
		return 0, mapErr("count attachment refs", "attachment", err)
	}
	return n, nil
}

func (r *attachmentRepo) RefAttachmentIDsByChat(dbc dbctx.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.tx(dbc).
		Model(&domain.MessageAttachment{}).
		Where("chat_id = ?", chatID).
		Distinct().
		Pluck("attachment_id", &ids).Error; err != nil {
		return nil, mapErr("list chat attachments", "attachment", err)
	}
	return ids, nil
}

func (r *attachmentRepo) RefAttachmentIDsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(messageIDs) == 0 {
		return []uuid.UUID{}, nil
	}
	var ids []uuid.UUID
	if err := r.tx(dbc).
		Model(&domain.MessageAttachment{}).
		Where("message_id IN ?", messageIDs).
		Distinct().
		Pluck("attachment_id", &ids).Error; err != nil {
		return nil, mapErr("list message attachments", "attachment", err)
	}
	return ids, nil
}

func (r *attachmentRepo) RefsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) ([]*domain.MessageAttachment, error) {
	if len(messageIDs) == 0 {
		return []*domain.MessageAttachment{}, nil
	}
	var out []*domain.MessageAttachment
	if err := r.tx(dbc).Where("message_id IN ?", messageIDs).Find(&out).Error; err != nil {
		return nil, mapErr("list attachment refs", "attachment", err)
	}
	return out, nil
}

func (r *attachmentRepo) DeleteRefsByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	return mapErr("delete attachment refs", "attachment", r.tx(dbc).
		Where("chat_id = ?", chatID).
		Delete(&domain.MessageAttachment{}).Error)
}

func (r *attachmentRepo) DeleteRefsByMessages(dbc dbctx.Context, messageIDs []uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return mapErr("delete attachment refs", "attachment", r.tx(dbc).
		Where("message_id IN ?", messageIDs).
		Delete(&domain.MessageAttachment{}).Error)
}

func (r *attachmentRepo) ListCleanupCandidates(dbc dbctx.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var ids []uuid.UUID
	err := r.tx(dbc).
		Model(&domain.Attachment{}).
		Where(
			"(status = ? AND created_at < ? AND NOT EXISTS (SELECT 1 FROM message_attachment ma WHERE ma.attachment_id = attachment.id)) OR status = ?",
			domain.AttachmentLive, createdBefore.UTC(), domain.AttachmentDeleting,
		).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, mapErr("list orphan attachments", "attachment", err)
	}
	return ids, nil
}
