package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Message) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Message, error)
	// ListByChat returns every message in (created_at, seq) order.
	ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*domain.Message, error)
	ListUpToSeq(dbc dbctx.Context, chatID uuid.UUID, maxSeq int64) ([]*domain.Message, error)
	Last(dbc dbctx.Context, chatID uuid.UUID) (*domain.Message, error)
	GetByIdempotencyKey(dbc dbctx.Context, chatID uuid.UUID, key string) (*domain.Message, error)
	CountByRole(dbc dbctx.Context, chatID uuid.UUID, role domain.Role) (int64, error)
	ListIDsAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64) ([]uuid.UUID, error)
	DeleteAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64) (int64, error)
	DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) tx(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*domain.Message) error {
	if len(rows) == 0 {
		return nil
	}
	return mapErr("append message", "message", r.tx(dbc).Create(&rows).Error)
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Message, error) {
	var out domain.Message
	if err := r.tx(dbc).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, mapErr("get message", "message", err)
	}
	return &out, nil
}

func (r *messageRepo) ordered(dbc dbctx.Context, chatID uuid.UUID) *gorm.DB {
	return r.tx(dbc).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("seq ASC")
}

func (r *messageRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*domain.Message, error) {
	var out []*domain.Message
	if err := r.ordered(dbc, chatID).Find(&out).Error; err != nil {
		return nil, mapErr("list messages", "message", err)
	}
	return out, nil
}

func (r *messageRepo) ListUpToSeq(dbc dbctx.Context, chatID uuid.UUID, maxSeq int64) ([]*domain.Message, error) {
	var out []*domain.Message
	if err := r.ordered(dbc, chatID).Where("seq <= ?", maxSeq).Find(&out).Error; err != nil {
		return nil, mapErr("list messages", "message", err)
	}
	return out, nil
}

// Last returns the newest message or nil for an empty chat.
func (r *messageRepo) Last(dbc dbctx.Context, chatID uuid.UUID) (*domain.Message, error) {
	var out []*domain.Message
	if err := r.tx(dbc).
		Where("chat_id = ?", chatID).
		Order("seq DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, mapErr("last message", "message", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *messageRepo) GetByIdempotencyKey(dbc dbctx.Context, chatID uuid.UUID, key string) (*domain.Message, error) {
	if key == "" {
		return nil, nil
	}
	var out []*domain.Message
	if err := r.tx(dbc).
		Where("chat_id = ? AND idempotency_key = ?", chatID, key).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, mapErr("idempotency lookup", "message", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *messageRepo) CountByRole(dbc dbctx.Context, chatID uuid.UUID, role domain.Role) (int64, error) {
	var n int64
	if err := r.tx(dbc).
		Model(&domain.Message{}).
		Where("chat_id = ? AND role = ?", chatID, role).
		Count(&n).Error; err != nil {
		return 0, mapErr("count messages", "message", err)
	}
	return n, nil
}

func (r *messageRepo) ListIDsAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.tx(dbc).
		Model(&domain.Message{}).
		Where("chat_id = ? AND seq > ?", chatID, seq).
		Pluck("id", &ids).Error; err != nil {
		return nil, mapErr("list message ids", "message", err)
	}
	return ids, nil
}

func (r *messageRepo) DeleteAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64) (int64, error) {
	res := r.tx(dbc).Where("chat_id = ? AND seq > ?", chatID, seq).Delete(&domain.Message{})
	if res.Error != nil {
		return 0, mapErr("truncate messages", "message", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *messageRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error) {
	res := r.tx(dbc).Where("chat_id = ?", chatID).Delete(&domain.Message{})
	if res.Error != nil {
		return 0, mapErr("delete messages", "message", res.Error)
	}
	return res.RowsAffected, nil
}
