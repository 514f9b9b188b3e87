package chat

import (
	"time"

	"github.com/google/uuid"
)

// PlaceholderTitle is assigned until title generation replaces it.
const PlaceholderTitle = "New Chat"

const MaxTitleLength = 200

type Chat struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_owner_updated,priority:1;index:idx_chat_id_owner,priority:2" json:"owner_user_id"`
	Title       string    `gorm:"not null" json:"title"`

	IsPinned bool `gorm:"not null;default:false" json:"is_pinned"`
	IsShared bool `gorm:"not null;default:false" json:"is_shared"`

	// Branch lineage is a one-way back reference. Parents do not track forks.
	IsBranch     bool       `gorm:"not null;default:false" json:"is_branch"`
	ParentChatID *uuid.UUID `gorm:"type:uuid;index" json:"parent_chat_id,omitempty"`

	// NextSeq is the last message sequence handed out for this chat.
	NextSeq       int64      `gorm:"not null;default:0" json:"-"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false;index:idx_chat_owner_updated,priority:2" json:"updated_at"`
}

func (Chat) TableName() string { return "chat" }

func (c *Chat) OwnedBy(userID uuid.UUID) bool {
	return c != nil && userID != uuid.Nil && c.OwnerUserID == userID
}

// ReadableBy reports whether userID may read the chat: owners always, others only when shared.
func (c *Chat) ReadableBy(userID uuid.UUID) bool {
	return c != nil && (c.OwnedBy(userID) || c.IsShared)
}

func (c *Chat) HasPlaceholderTitle() bool {
	return c != nil && (c.Title == "" || c.Title == PlaceholderTitle)
}
