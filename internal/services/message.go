package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

const maxIdempotencyKeyLen = 128

type AppendInput struct {
	ChatID uuid.UUID
	// AuthorID must own the chat. User turns may only reference the author's own attachments.
	AuthorID       uuid.UUID
	Role           domain.Role
	Parts          domain.Parts
	Metadata       *domain.GenerationMetadata
	IdempotencyKey string
}

type AppendResult struct {
	Message *domain.Message
	// Replayed is set when IdempotencyKey matched an existing message, which is returned instead.
	Replayed bool
}

type MessageService interface {
	// AppendMessage commits one message. Appends to the same chat are
	// serialized on the chat row; each gets the next sequence number and a
	// created_at no earlier than the previous message's.
	AppendMessage(dbc dbctx.Context, in AppendInput) (*AppendResult, error)
	// CheckAppend runs the input and attachment checks of AppendMessage
	// without locking or writing anything. AppendMessage repeats them under
	// lock, so a nil result is advisory.
	CheckAppend(dbc dbctx.Context, in AppendInput) error
	ListMessages(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) ([]*domain.Message, error)
	// TruncateFrom deletes every message after afterMessageID and returns how many were removed.
	TruncateFrom(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, afterMessageID uuid.UUID) (int64, error)
}

type messageService struct {
	db          *gorm.DB
	log         *logger.Logger
	chats       chatrepo.ChatRepo
	messages    chatrepo.MessageRepo
	attachments chatrepo.AttachmentRepo
	dispatch    Dispatcher
	notify      ChatNotifier
	now         func() time.Time
}

func NewMessageService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	attachments chatrepo.AttachmentRepo,
	dispatch Dispatcher,
	notify ChatNotifier,
) MessageService {
	if dispatch == nil {
		dispatch = noopDispatcher{}
	}
	return &messageService{
		db:          db,
		log:         baseLog.With("service", "MessageService"),
		chats:       chats,
		messages:    messages,
		attachments: attachments,
		dispatch:    dispatch,
		notify:      notify,
		now:         time.Now,
	}
}

func validateAppend(in AppendInput) error {
	if err := requireUser(in.AuthorID); err != nil {
		return err
	}
	if in.ChatID == uuid.Nil {
		return apierr.Validation("missing chat id")
	}
	if !in.Role.Valid() {
		return apierr.Validation("invalid role %q", in.Role)
	}
	if err := in.Parts.Validate(); err != nil {
		return apierr.Validation("%v", err)
	}
	if in.Metadata != nil && in.Role != domain.RoleAssistant {
		return apierr.Validation("generation metadata is only valid on assistant messages")
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return apierr.Validation("idempotency key longer than %d characters", maxIdempotencyKeyLen)
	}
	return nil
}

func (s *messageService) AppendMessage(dbc dbctx.Context, in AppendInput) (*AppendResult, error) {
	if err := validateAppend(in); err != nil {
		return nil, err
	}
	var out *AppendResult
	run := func(tx *gorm.DB) error {
		res, err := s.appendTx(dbc.WithTx(tx), in)
		out = res
		return err
	}
	var err error
	if dbc.Tx != nil {
		err = run(dbc.Tx)
	} else {
		err = s.db.WithContext(dbc.Ctx).Transaction(run)
	}
	if err != nil {
		return nil, storeErr("append message", err)
	}
	if !out.Replayed && s.notify != nil {
		s.notify.MessageCommitted(in.AuthorID, in.ChatID, out.Message)
	}
	return out, nil
}

func (s *messageService) appendTx(dbc dbctx.Context, in AppendInput) (*AppendResult, error) {
	chat, err := s.chats.LockByID(dbc, in.ChatID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(chat, in.AuthorID); err != nil {
		return nil, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.messages.GetByIdempotencyKey(dbc, in.ChatID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &AppendResult{Message: existing, Replayed: true}, nil
		}
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ChatID:         in.ChatID,
		Seq:            chat.NextSeq + 1,
		Role:           in.Role,
		Parts:          in.Parts.Clone(),
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      nextCreatedAt(s.now(), chat.LastMessageAt),
	}
	msg.SetGenerationMetadata(in.Metadata)

	refs, err := s.lockRefs(dbc, msg, in.Role == domain.RoleUser, in.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Create(dbc, []*domain.Message{msg}); err != nil {
		return nil, err
	}
	if err := s.attachments.AddRefs(dbc, refs); err != nil {
		return nil, err
	}
	if err := s.chats.UpdateFields(dbc, chat.ID, map[string]interface{}{
		"next_seq":        msg.Seq,
		"last_message_at": msg.CreatedAt,
	}); err != nil {
		return nil, err
	}
	if err := s.chats.Touch(dbc, chat.ID, msg.CreatedAt); err != nil {
		return nil, err
	}
	return &AppendResult{Message: msg}, nil
}

func (s *messageService) CheckAppend(dbc dbctx.Context, in AppendInput) error {
	if err := validateAppend(in); err != nil {
		return err
	}
	for _, u := range in.Parts.AttachmentURLs() {
		row, err := s.attachments.GetByURL(dbc, u)
		if errors.Is(err, apierr.ErrNotFound) {
			row, err = nil, nil
		}
		if err != nil {
			return storeErr("check attachment", err)
		}
		if err := checkRef(u, row, in.Role == domain.RoleUser, in.AuthorID); err != nil {
			return err
		}
	}
	return nil
}

// checkRef decides whether a message by authorID may reference row, the
// attachment stored under url. A nil row means no such attachment.
func checkRef(url string, row *domain.Attachment, ownOnly bool, authorID uuid.UUID) error {
	if row == nil || row.Status != domain.AttachmentLive {
		return apierr.Validation("attachment %s is not available", url)
	}
	if ownOnly && row.OwnerUserID != authorID {
		return apierr.Forbidden("attachment belongs to another user")
	}
	return nil
}

// lockRefs locks the attachments msg points at so cleanup cannot delete them
// before the references are written.
func (s *messageService) lockRefs(dbc dbctx.Context, msg *domain.Message, ownOnly bool, authorID uuid.UUID) ([]*domain.MessageAttachment, error) {
	urls := msg.Parts.AttachmentURLs()
	if len(urls) == 0 {
		return nil, nil
	}
	rows, err := s.attachments.LockByURLs(dbc, urls)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]*domain.Attachment, len(rows))
	for _, row := range rows {
		byURL[row.URL] = row
	}
	refs := make([]*domain.MessageAttachment, 0, len(urls))
	for _, u := range urls {
		row := byURL[u]
		if err := checkRef(u, row, ownOnly, authorID); err != nil {
			return nil, err
		}
		refs = append(refs, &domain.MessageAttachment{
			MessageID:    msg.ID,
			AttachmentID: row.ID,
			ChatID:       msg.ChatID,
			CreatedAt:    msg.CreatedAt,
		})
	}
	return refs, nil
}

// nextCreatedAt never goes backwards relative to the chat's last message, so
// clock skew between instances cannot reorder a chat.
func nextCreatedAt(now time.Time, last *time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if last != nil && now.Before(last.UTC()) {
		return last.UTC()
	}
	return now
}

func (s *messageService) ListMessages(dbc dbctx.Context, chatID uuid.UUID, requesterID uuid.UUID) ([]*domain.Message, error) {
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
	return s.messages.ListByChat(dbc, chatID)
}

func (s *messageService) TruncateFrom(dbc dbctx.Context, chatID uuid.UUID, ownerID uuid.UUID, afterMessageID uuid.UUID) (int64, error) {
	if err := requireUser(ownerID); err != nil {
		return 0, err
	}
	var removed int64
	var released []uuid.UUID
	run := func(tx *gorm.DB) error {
		n, ids, err := s.truncateTx(dbc.WithTx(tx), chatID, ownerID, afterMessageID)
		removed, released = n, ids
		return err
	}
	var err error
	if dbc.Tx != nil {
		err = run(dbc.Tx)
	} else {
		err = s.db.WithContext(dbc.Ctx).Transaction(run)
	}
	if err != nil {
		return 0, storeErr("truncate messages", err)
	}
	if len(released) > 0 {
		if err := s.dispatch.EnqueueAttachmentCleanup(dbc.Ctx, released); err != nil {
			s.log.Warn("enqueue attachment cleanup failed; sweep will retry", "chat_id", chatID, "error", err)
		}
	}
	if removed > 0 {
		s.log.Info("chat truncated", "chat_id", chatID, "after_message_id", afterMessageID, "removed", removed)
		if s.notify != nil {
			s.notify.MessagesTruncated(ownerID, chatID, afterMessageID, removed)
		}
	}
	return removed, nil
}

func (s *messageService) truncateTx(dbc dbctx.Context, chatID, ownerID, afterMessageID uuid.UUID) (int64, []uuid.UUID, error) {
	chat, err := s.chats.LockByID(dbc, chatID)
	if err != nil {
		return 0, nil, err
	}
	if err := requireOwner(chat, ownerID); err != nil {
		return 0, nil, err
	}
	anchor, err := s.messages.GetByID(dbc, afterMessageID)
	if err != nil {
		return 0, nil, err
	}
	if anchor.ChatID != chatID {
		return 0, nil, apierr.NotFound("message")
	}
	return s.deleteAfterTx(dbc, chatID, anchor.Seq)
}

// deleteAfterTx removes messages with seq greater than seq and their
// attachment references. The chat row must already be locked.
func (s *messageService) deleteAfterTx(dbc dbctx.Context, chatID uuid.UUID, seq int64) (int64, []uuid.UUID, error) {
	ids, err := s.messages.ListIDsAfterSeq(dbc, chatID, seq)
	if err != nil || len(ids) == 0 {
		return 0, nil, err
	}
	released, err := s.attachments.RefAttachmentIDsByMessages(dbc, ids)
	if err != nil {
		return 0, nil, err
	}
	if err := s.attachments.DeleteRefsByMessages(dbc, ids); err != nil {
		return 0, nil, err
	}
	n, err := s.messages.DeleteAfterSeq(dbc, chatID, seq)
	if err != nil {
		return 0, nil, err
	}
	if err := s.chats.Touch(dbc, chatID, s.now()); err != nil {
		return 0, nil, err
	}
	return n, released, nil
}
