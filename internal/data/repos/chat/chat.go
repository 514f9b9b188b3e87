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

type ChatRepo interface {
	Create(dbc dbctx.Context, row *domain.Chat) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*domain.Chat, error)
	ListIDsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// SetTitleIfPlaceholder only replaces a title nobody has edited yet.
	SetTitleIfPlaceholder(dbc dbctx.Context, id uuid.UUID, title string) (bool, error)
	Touch(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	// DetachForks turns every direct fork of parentID into a root chat and
	// returns how many were detached. updated_at is left alone.
	DetachForks(dbc dbctx.Context, parentID uuid.UUID) (int64, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) tx(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *chatRepo) Create(dbc dbctx.Context, row *domain.Chat) error {
	if row == nil {
		return fmt.Errorf("nil chat")
	}
	return mapErr("create chat", "chat", r.tx(dbc).Create(row).Error)
}

func (r *chatRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error) {
	var out domain.Chat
	if err := r.tx(dbc).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, mapErr("get chat", "chat", err)
	}
	return &out, nil
}

func (r *chatRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*domain.Chat, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []*domain.Chat
	if err := r.tx(dbc).
		Where("owner_user_id = ?", ownerID).
		Order("is_pinned DESC").
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, mapErr("list chats", "chat", err)
	}
	return out, nil
}

func (r *chatRepo) ListIDsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.tx(dbc).
		Model(&domain.Chat{}).
		Where("owner_user_id = ?", ownerID).
		Pluck("id", &ids).Error; err != nil {
		return nil, mapErr("list chat ids", "chat", err)
	}
	return ids, nil
}

func (r *chatRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error) {
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out domain.Chat
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, mapErr("lock chat", "chat", err)
	}
	return &out, nil
}

func (r *chatRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	res := r.tx(dbc).Model(&domain.Chat{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return mapErr("update chat", "chat", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapErr("update chat", "chat", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *chatRepo) SetTitleIfPlaceholder(dbc dbctx.Context, id uuid.UUID, title string) (bool, error) {
	res := r.tx(dbc).
		Model(&domain.Chat{}).
		Where("id = ? AND (title = ? OR title = '')", id, domain.PlaceholderTitle).
		UpdateColumn("title", title)
	if res.Error != nil {
		return false, mapErr("set chat title", "chat", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Touch moves updated_at forward to at, never backwards.
func (r *chatRepo) Touch(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	at = at.UTC()
	res := r.tx(dbc).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", gorm.Expr("CASE WHEN updated_at < ? THEN ? ELSE updated_at END", at, at))
	if res.Error != nil {
		return mapErr("touch chat", "chat", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapErr("touch chat", "chat", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *chatRepo) DetachForks(dbc dbctx.Context, parentID uuid.UUID) (int64, error) {
	res := r.tx(dbc).Model(&domain.Chat{}).
		Where("parent_chat_id = ?", parentID).
		UpdateColumns(map[string]interface{}{"parent_chat_id": nil, "is_branch": false})
	if res.Error != nil {
		return 0, mapErr("detach forks", "chat", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *chatRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	res := r.tx(dbc).Where("id = ?", id).Delete(&domain.Chat{})
	if res.Error != nil {
		return mapErr("delete chat", "chat", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapErr("delete chat", "chat", gorm.ErrRecordNotFound)
	}
	return nil
}
