package chat

import (
	"time"

	"github.com/google/uuid"
)

type AttachmentStatus string

const (
	AttachmentLive AttachmentStatus = "live"
	// AttachmentDeleting marks a row whose blob is being removed. It can no
	// longer gain references.
	AttachmentDeleting AttachmentStatus = "deleting"
)

type Attachment struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID        `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	URL         string           `gorm:"not null;uniqueIndex:idx_attachment_url" json:"url"`
	ObjectKey   string           `gorm:"not null" json:"-"`
	Name        string           `json:"name"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `gorm:"not null;default:0" json:"size_bytes"`
	Status      AttachmentStatus `gorm:"type:text;not null;index" json:"status"`
	CreatedAt   time.Time        `gorm:"not null;autoCreateTime:false;index" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (Attachment) TableName() string { return "attachment" }

// MessageAttachment is one reference from a message to an attachment. The
// attachment is live while any row points at it.
type MessageAttachment struct {
	MessageID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"message_id"`
	AttachmentID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"attachment_id"`
	ChatID       uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
}

func (MessageAttachment) TableName() string { return "message_attachment" }

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Chat{}, &Message{}, &Attachment{}, &MessageAttachment{}}
}
