package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type ShareVerification struct {
	Success bool `json:"success"`
	// DidUserCreate tells the owner viewing their own link apart from a third party.
	DidUserCreate bool `json:"did_user_create"`
}

type ForkInput struct {
	SourceChatID uuid.UUID
	NewOwnerID   uuid.UUID
	// UpToMessageID, when set, copies history up to and including that message.
	UpToMessageID *uuid.UUID
}

type SharingService interface {
	ShareChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, shared bool) (*domain.Chat, error)
	// VerifySharedChat never fails for a missing or private chat; it reports Success=false instead.
	VerifySharedChat(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) (ShareVerification, error)
	// ForkChat snapshots a readable chat into a new branch owned by NewOwnerID.
	ForkChat(dbc dbctx.Context, in ForkInput) (*domain.Chat, error)
}

type sharingService struct {
	db          *gorm.DB
	log         *logger.Logger
	chats       chatrepo.ChatRepo
	messages    chatrepo.MessageRepo
	attachments chatrepo.AttachmentRepo
	lineage     LineageProjector
	notify      ChatNotifier
}

func NewSharingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	attachments chatrepo.AttachmentRepo,
	lineage LineageProjector,
	notify ChatNotifier,
) SharingService {
	if lineage == nil {
		lineage = noopProjector{}
	}
	return &sharingService{
		db:          db,
		log:         baseLog.With("service", "SharingService"),
		chats:       chats,
		messages:    messages,
		attachments: attachments,
		lineage:     lineage,
		notify:      notify,
	}
}

func (s *sharingService) ShareChat(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, shared bool) (*domain.Chat, error) {
	if err := requireUser(ownerID); err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(chat, ownerID); err != nil {
		return nil, err
	}
	if chat.IsShared == shared {
		return chat, nil
	}
	if err := s.chats.UpdateFields(dbc, chatID, map[string]interface{}{"is_shared": shared}); err != nil {
		return nil, err
	}
	chat.IsShared = shared
	s.log.Info("chat share state changed", "chat_id", chatID, "shared", shared)
	if s.notify != nil {
		s.notify.ChatUpdated(ownerID, chat)
	}
	return chat, nil
}

func (s *sharingService) VerifySharedChat(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) (ShareVerification, error) {
	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		if apierr.Retryable(err) {
			return ShareVerification{}, err
		}
		return ShareVerification{}, nil
	}
	owner := chat.OwnedBy(requesterID)
	return ShareVerification{
		Success:       owner || chat.IsShared,
		DidUserCreate: owner,
	}, nil
}

func (s *sharingService) ForkChat(dbc dbctx.Context, in ForkInput) (*domain.Chat, error) {
	if err := requireUser(in.NewOwnerID); err != nil {
		return nil, err
	}
	var parent, fork *domain.Chat
	err := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		parent, fork, err = s.forkTx(dbc.WithTx(tx), in)
		return err
	})
	if err != nil {
		return nil, storeErr("fork chat", err)
	}
	s.log.Info("chat forked", "source_chat_id", parent.ID, "chat_id", fork.ID, "owner_id", in.NewOwnerID)
	if err := s.lineage.ChatForked(dbc.Ctx, parent, fork); err != nil {
		s.log.Warn("lineage projection failed", "chat_id", fork.ID, "error", err)
	}
	if s.notify != nil {
		s.notify.ChatCreated(in.NewOwnerID, fork)
	}
	return fork, nil
}

// forkTx copies the source history inside one transaction. The source row is
// locked so the snapshot cannot interleave with an append.
func (s *sharingService) forkTx(dbc dbctx.Context, in ForkInput) (*domain.Chat, *domain.Chat, error) {
	src, err := s.chats.LockByID(dbc, in.SourceChatID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireReadable(src, in.NewOwnerID); err != nil {
		return nil, nil, err
	}

	var history []*domain.Message
	if in.UpToMessageID != nil {
		anchor, err := s.messages.GetByID(dbc, *in.UpToMessageID)
		if err != nil {
			return nil, nil, err
		}
		if anchor.ChatID != src.ID {
			return nil, nil, apierr.NotFound("message")
		}
		history, err = s.messages.ListUpToSeq(dbc, src.ID, anchor.Seq)
		if err != nil {
			return nil, nil, err
		}
	} else {
		history, err = s.messages.ListByChat(dbc, src.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	parentID := src.ID
	fork := &domain.Chat{
		ID:           uuid.New(),
		OwnerUserID:  in.NewOwnerID,
		Title:        src.Title,
		IsBranch:     true,
		ParentChatID: &parentID,
		NextSeq:      int64(len(history)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	copies := make([]*domain.Message, 0, len(history))
	idMap := make(map[uuid.UUID]uuid.UUID, len(history))
	for i, m := range history {
		c := &domain.Message{
			ID:        uuid.New(),
			ChatID:    fork.ID,
			Seq:       int64(i + 1),
			Role:      m.Role,
			Parts:     m.Parts.Clone(),
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		}
		idMap[m.ID] = c.ID
		copies = append(copies, c)
	}
	if n := len(copies); n > 0 {
		last := copies[n-1].CreatedAt
		fork.LastMessageAt = &last
	}

	refs, err := s.copyRefs(dbc, fork.ID, history, idMap)
	if err != nil {
		return nil, nil, err
	}
	if err := s.chats.Create(dbc, fork); err != nil {
		return nil, nil, err
	}
	if err := s.messages.Create(dbc, copies); err != nil {
		return nil, nil, err
	}
	if err := s.attachments.AddRefs(dbc, refs); err != nil {
		return nil, nil, err
	}
	return src, fork, nil
}

// copyRefs points the copied messages at the same attachments. The rows are
// locked so cleanup cannot remove an attachment the fork is about to reference.
func (s *sharingService) copyRefs(dbc dbctx.Context, forkID uuid.UUID, history []*domain.Message, idMap map[uuid.UUID]uuid.UUID) ([]*domain.MessageAttachment, error) {
	srcIDs := make([]uuid.UUID, 0, len(history))
	for _, m := range history {
		srcIDs = append(srcIDs, m.ID)
	}
	srcRefs, err := s.attachments.RefsByMessages(dbc, srcIDs)
	if err != nil || len(srcRefs) == 0 {
		return nil, err
	}

	urls := domain.Parts{}
	for _, m := range history {
		urls = append(urls, m.Parts...)
	}
	locked, err := s.attachments.LockByURLs(dbc, urls.AttachmentURLs())
	if err != nil {
		return nil, err
	}
	live := make(map[uuid.UUID]bool, len(locked))
	for _, a := range locked {
		live[a.ID] = a.Status == domain.AttachmentLive
	}

	now := time.Now().UTC()
	out := make([]*domain.MessageAttachment, 0, len(srcRefs))
	for _, r := range srcRefs {
		if !live[r.AttachmentID] {
			continue
		}
		out = append(out, &domain.MessageAttachment{
			MessageID:    idMap[r.MessageID],
			AttachmentID: r.AttachmentID,
			ChatID:       forkID,
			CreatedAt:    now,
		})
	}
	return out, nil
}
