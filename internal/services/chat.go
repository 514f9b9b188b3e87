package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

// ChatPatch carries the owner-editable chat fields. Nil fields are left alone.
type ChatPatch struct {
	Title    *string `json:"title,omitempty"`
	IsPinned *bool   `json:"is_pinned,omitempty"`
}

type ChatService interface {
	CreateChat(dbc dbctx.Context, ownerID uuid.UUID, title string) (*domain.Chat, error)
	// GetChat returns the chat to its owner, or to anyone while it is shared.
	GetChat(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) (*domain.Chat, error)
	// ListChats orders pinned chats first, then by updated_at descending.
	ListChats(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*domain.Chat, error)
	UpdateChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, patch ChatPatch) (*domain.Chat, error)
	RenameChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, title string) (*domain.Chat, error)
	PinChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, pinned bool) (*domain.Chat, error)
	// DeleteChat removes the chat with its messages and queues cleanup of the
	// attachments those messages referenced.
	DeleteChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID) error
	// DeleteOwnerData deletes every chat the owner has and queues cleanup of
	// all of the owner's attachments.
	DeleteOwnerData(dbc dbctx.Context, ownerID uuid.UUID) (int, error)
}

type chatService struct {
	db          *gorm.DB
	log         *logger.Logger
	chats       chatrepo.ChatRepo
	messages    chatrepo.MessageRepo
	attachments chatrepo.AttachmentRepo
	dispatch    Dispatcher
	lineage     LineageProjector
	notify      ChatNotifier
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	attachments chatrepo.AttachmentRepo,
	dispatch Dispatcher,
	lineage LineageProjector,
	notify ChatNotifier,
) ChatService {
	if dispatch == nil {
		dispatch = noopDispatcher{}
	}
	if lineage == nil {
		lineage = noopProjector{}
	}
	return &chatService{
		db:          db,
		log:         baseLog.With("service", "ChatService"),
		chats:       chats,
		messages:    messages,
		attachments: attachments,
		dispatch:    dispatch,
		lineage:     lineage,
		notify:      notify,
	}
}

func normalizeTitle(title string) (string, error) {
	title = strings.Join(strings.Fields(title), " ")
	if len([]rune(title)) > domain.MaxTitleLength {
		return "", apierr.Validation("title longer than %d characters", domain.MaxTitleLength)
	}
	return title, nil
}

func (s *chatService) CreateChat(dbc dbctx.Context, ownerID uuid.UUID, title string) (*domain.Chat, error) {
	if err := requireUser(ownerID); err != nil {
		return nil, err
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = domain.PlaceholderTitle
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	chat := &domain.Chat{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.chats.Create(dbc, chat); err != nil {
		return nil, err
	}
	s.log.Info("chat created", "chat_id", chat.ID, "owner_id", ownerID)

	if err := s.lineage.ChatCreated(dbc.Ctx, chat); err != nil {
		s.log.Warn("lineage projection failed", "chat_id", chat.ID, "error", err)
	}
	if s.notify != nil {
		s.notify.ChatCreated(ownerID, chat)
	}
	return chat, nil
}

func (s *chatService) GetChat(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) (*domain.Chat, error) {
	if err := requireUser(requesterID); err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireReadable(chat, requesterID); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *chatService) ListChats(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*domain.Chat, error) {
	if err := requireUser(ownerID); err != nil {
		return nil, err
	}
	return s.chats.ListByOwner(dbc, ownerID, limit)
}

func (s *chatService) UpdateChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, patch ChatPatch) (*domain.Chat, error) {
	if err := requireUser(ownerID); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title, err := normalizeTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		if title == "" {
			return nil, apierr.Validation("title must not be empty")
		}
		updates["title"] = title
	}
	if patch.IsPinned != nil {
		updates["is_pinned"] = *patch.IsPinned
	}

	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(chat, ownerID); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return chat, nil
	}
	if err := s.chats.UpdateFields(dbc, chatID, updates); err != nil {
		return nil, err
	}
	chat, err = s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.ChatUpdated(ownerID, chat)
	}
	return chat, nil
}

func (s *chatService) RenameChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, title string) (*domain.Chat, error) {
	return s.UpdateChat(dbc, chatID, ownerID, ChatPatch{Title: &title})
}

func (s *chatService) PinChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, pinned bool) (*domain.Chat, error) {
	return s.UpdateChat(dbc, chatID, ownerID, ChatPatch{IsPinned: &pinned})
}

func (s *chatService) DeleteChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID) error {
	if err := requireUser(ownerID); err != nil {
		return err
	}
	var released []uuid.UUID
	err := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.deleteChatTx(dbc.WithTx(tx), chatID, ownerID)
		released = ids
		return err
	})
	if err != nil {
		return storeErr("delete chat", err)
	}
	s.afterDelete(dbc, ownerID, chatID, released)
	return nil
}

// deleteChatTx removes the chat rows and returns the attachments that lost
// references.
func (s *chatService) deleteChatTx(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID) ([]uuid.UUID, error) {
	chat, err := s.chats.LockByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(chat, ownerID); err != nil {
		return nil, err
	}
	attIDs, err := s.attachments.RefAttachmentIDsByChat(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.attachments.DeleteRefsByChat(dbc, chatID); err != nil {
		return nil, err
	}
	if _, err := s.messages.DeleteByChat(dbc, chatID); err != nil {
		return nil, err
	}
	// Forks outlive their parent as root chats; the lineage graph keeps the ancestry.
	if _, err := s.chats.DetachForks(dbc, chatID); err != nil {
		return nil, err
	}
	if err := s.chats.Delete(dbc, chatID); err != nil {
		return nil, err
	}
	return attIDs, nil
}

func (s *chatService) afterDelete(dbc dbctx.Context, ownerID, chatID uuid.UUID, released []uuid.UUID) {
	s.log.Info("chat deleted", "chat_id", chatID, "owner_id", ownerID, "released_attachments", len(released))
	if len(released) > 0 {
		if err := s.dispatch.EnqueueAttachmentCleanup(dbc.Ctx, released); err != nil {
			s.log.Warn("enqueue attachment cleanup failed; sweep will retry", "chat_id", chatID, "error", err)
		}
	}
	if err := s.lineage.ChatDeleted(dbc.Ctx, chatID); err != nil {
		s.log.Warn("lineage projection failed", "chat_id", chatID, "error", err)
	}
	if s.notify != nil {
		s.notify.ChatDeleted(ownerID, chatID)
	}
}

func (s *chatService) DeleteOwnerData(dbc dbctx.Context, ownerID uuid.UUID) (int, error) {
	if err := requireUser(ownerID); err != nil {
		return 0, err
	}
	chatIDs, err := s.chats.ListIDsByOwner(dbc, ownerID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, chatID := range chatIDs {
		if err := s.DeleteChat(dbc, chatID, ownerID); err != nil {
			if apierr.Retryable(err) {
				return deleted, err
			}
			s.log.Warn("skip chat during owner purge", "chat_id", chatID, "error", err)
			continue
		}
		deleted++
	}

	attIDs, err := s.attachments.ListIDsByOwner(dbc, ownerID)
	if err != nil {
		return deleted, err
	}
	if len(attIDs) > 0 {
		if err := s.dispatch.EnqueueAttachmentCleanup(dbc.Ctx, attIDs); err != nil {
			s.log.Warn("enqueue owner attachment cleanup failed; sweep will retry", "owner_id", ownerID, "error", err)
		}
	}
	s.log.Info("owner data deleted", "owner_id", ownerID, "chats", deleted, "attachments", len(attIDs))
	return deleted, nil
}
