package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// GenerationMetadata is assistant-only generation telemetry.
type GenerationMetadata struct {
	Model               string  `json:"model"`
	TokensPerSecond     float64 `json:"tokens_per_second"`
	TimeToFirstTokenMS  int64   `json:"time_to_first_token_ms"`
	ElapsedMS           int64   `json:"elapsed_ms"`
	CompletionTokens    int     `json:"completion_tokens"`
	ReasoningDurationMS *int64  `json:"reasoning_duration_ms,omitempty"`
}

// Message ordering within a chat is (CreatedAt, Seq). Seq is allocated under
// the chat row lock so it also reflects arrival order.
type Message struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index:idx_message_chat_created,priority:1;uniqueIndex:idx_message_chat_seq,priority:1" json:"chat_id"`
	Seq    int64     `gorm:"not null;uniqueIndex:idx_message_chat_seq,priority:2" json:"seq"`
	Role   Role      `gorm:"type:text;not null" json:"role"`
	Parts  Parts     `gorm:"not null" json:"parts"`

	Metadata *datatypes.JSONType[GenerationMetadata] `json:"metadata,omitempty"`

	IdempotencyKey string `gorm:"index" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime:false;index:idx_message_chat_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_message" }

func (m *Message) GenerationMetadata() *GenerationMetadata {
	if m == nil || m.Metadata == nil {
		return nil
	}
	md := m.Metadata.Data()
	return &md
}

func (m *Message) SetGenerationMetadata(md *GenerationMetadata) {
	if md == nil {
		m.Metadata = nil
		return
	}
	v := datatypes.NewJSONType(*md)
	m.Metadata = &v
}
