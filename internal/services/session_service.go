package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/ratelimit"
)

const DefaultSessionTimeout = 2 * time.Minute

var tracer = otel.Tracer("github.com/yungbote/chatcore-backend/internal/services")

// QuotaLimiter is the slice of the rate limiter a turn needs.
type QuotaLimiter interface {
	CheckAndConsume(ctx context.Context, userID string, resource string) (ratelimit.Decision, error)
}

// EventSink receives a turn as it happens, in order, on the goroutine that
// runs the turn.
type EventSink interface {
	UserMessage(msg *domain.Message)
	Fragment(f generation.Fragment)
	State(snap SessionSnapshot)
}

type SubmitInput struct {
	ChatID         uuid.UUID
	RequesterID    uuid.UUID
	Parts          domain.Parts
	Model          string
	IdempotencyKey string
}

type ReloadInput struct {
	ChatID      uuid.UUID
	RequesterID uuid.UUID
	Model       string
}

type TruncateInput struct {
	ChatID         uuid.UUID
	OwnerID        uuid.UUID
	AfterMessageID uuid.UUID
	// ForkFirst snapshots the untruncated chat into a branch before deleting the tail.
	ForkFirst bool
}

type TruncateResult struct {
	Removed    int64      `json:"removed"`
	ForkChatID *uuid.UUID `json:"fork_chat_id,omitempty"`
}

type TurnResult struct {
	UserMessage      *domain.Message     `json:"user_message"`
	AssistantMessage *domain.Message     `json:"assistant_message,omitempty"`
	Replayed         bool                `json:"replayed,omitempty"`
	Quota            *ratelimit.Decision `json:"quota,omitempty"`
}

type SessionService interface {
	// Submit persists the user's turn, then streams and commits the reply.
	// On error or cancellation the user's turn stays and no assistant
	// message is written.
	Submit(ctx context.Context, in SubmitInput, sink EventSink) (*TurnResult, error)
	// Reload regenerates the reply to the chat's last user message without
	// duplicating it. A trailing assistant reply is removed first.
	Reload(ctx context.Context, in ReloadInput, sink EventSink) (*TurnResult, error)
	EditAndTruncate(ctx context.Context, in TruncateInput) (*TruncateResult, error)
	Snapshot(ctx context.Context, chatID uuid.UUID, requesterID uuid.UUID) (SessionSnapshot, error)
}

type SessionConfig struct {
	DefaultModel string
	Instructions string
	Timeout      time.Duration
}

type sessionService struct {
	log      *logger.Logger
	chats    chatrepo.ChatRepo
	messages chatrepo.MessageRepo
	msgs     MessageService
	sharing  SharingService
	gen      generation.Generator
	quota    QuotaLimiter
	locks    TurnLocker
	registry *SessionRegistry
	dispatch Dispatcher
	notify   ChatNotifier
	cfg      SessionConfig
	now      func() time.Time
}

func NewSessionService(
	baseLog *logger.Logger,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	msgs MessageService,
	sharing SharingService,
	gen generation.Generator,
	quota QuotaLimiter,
	locks TurnLocker,
	registry *SessionRegistry,
	dispatch Dispatcher,
	notify ChatNotifier,
	cfg SessionConfig,
) SessionService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if locks == nil {
		locks = NewMemoryTurnLocker()
	}
	if registry == nil {
		registry = NewSessionRegistry()
	}
	if dispatch == nil {
		dispatch = noopDispatcher{}
	}
	return &sessionService{
		log:      baseLog.With("service", "SessionService"),
		chats:    chats,
		messages: messages,
		msgs:     msgs,
		sharing:  sharing,
		gen:      gen,
		quota:    quota,
		locks:    locks,
		registry: registry,
		dispatch: dispatch,
		notify:   notify,
		cfg:      cfg,
		now:      time.Now,
	}
}

type nopSink struct{}

func (nopSink) UserMessage(*domain.Message)  {}
func (nopSink) Fragment(generation.Fragment) {}
func (nopSink) State(SessionSnapshot)        {}

func (s *sessionService) model(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.DefaultModel
}

func validateUserParts(parts domain.Parts) error {
	if err := parts.Validate(); err != nil {
		return apierr.Validation("%v", err)
	}
	for _, p := range parts {
		switch p.(type) {
		case domain.TextPart, domain.AttachmentRefPart:
		default:
			return apierr.Validation("user messages may only contain text and attachments, got %s", p.Kind())
		}
	}
	return nil
}

// ownedChat loads the chat and checks that requesterID may append to it.
func (s *sessionService) ownedChat(ctx context.Context, chatID, requesterID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(dbctx.New(ctx), chatID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(chat, requesterID); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *sessionService) consume(ctx context.Context, userID uuid.UUID, model string) (*ratelimit.Decision, error) {
	if s.quota == nil {
		return nil, nil
	}
	d, err := s.quota.CheckAndConsume(ctx, userID.String(), model)
	if err != nil {
		return nil, err
	}
	if d.Unlimited {
		return nil, nil
	}
	if !d.Allowed {
		return &d, d.Err()
	}
	return &d, nil
}

func (s *sessionService) begin(chat *domain.Chat, sink EventSink) *session {
	prev := s.registry.Get(chat.ID)
	if !prev.State.Terminal() {
		prev.State = StateIdle
	}
	return &session{
		snap:    SessionSnapshot{ChatID: chat.ID, State: prev.State},
		ownerID: chat.OwnerUserID,
		now:     s.now,
		report: func(ownerID uuid.UUID, snap SessionSnapshot) {
			s.registry.Put(snap)
			sink.State(snap)
			if s.notify != nil {
				s.notify.SessionState(ownerID, snap)
			}
		},
	}
}

func (s *sessionService) Submit(ctx context.Context, in SubmitInput, sink EventSink) (*TurnResult, error) {
	if sink == nil {
		sink = nopSink{}
	}
	if err := requireUser(in.RequesterID); err != nil {
		return nil, err
	}
	if err := validateUserParts(in.Parts); err != nil {
		return nil, err
	}
	model := s.model(in.Model)

	ctx, span := tracer.Start(ctx, "chat.submit", trace.WithAttributes(
		attribute.String("chat.id", in.ChatID.String()),
		attribute.String("chat.model", model),
	))
	defer span.End()

	res, err := s.submit(ctx, in, model, sink)
	recordSpan(span, res, err)
	return res, err
}

func (s *sessionService) submit(ctx context.Context, in SubmitInput, model string, sink EventSink) (*TurnResult, error) {
	release, err := s.locks.Acquire(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	defer release()

	chat, err := s.ownedChat(ctx, in.ChatID, in.RequesterID)
	if err != nil {
		return nil, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.messages.GetByIdempotencyKey(dbctx.New(ctx), chat.ID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(ctx, existing)
		}
	}

	userTurn := AppendInput{
		ChatID:         chat.ID,
		AuthorID:       in.RequesterID,
		Role:           domain.RoleUser,
		Parts:          in.Parts,
		IdempotencyKey: in.IdempotencyKey,
	}
	// A turn that cannot be appended must not cost quota.
	if err := s.msgs.CheckAppend(dbctx.New(ctx), userTurn); err != nil {
		return nil, err
	}
	quota, err := s.consume(ctx, in.RequesterID, model)
	if err != nil {
		s.log.Info("turn rejected before persisting", "chat_id", chat.ID, "error", err)
		return nil, err
	}

	appended, err := s.msgs.AppendMessage(dbctx.New(ctx), userTurn)
	if err != nil {
		return nil, err
	}
	if appended.Replayed {
		return s.replay(ctx, appended.Message)
	}
	userMsg := appended.Message

	sess := s.begin(chat, sink)
	if err := sess.to(StateSubmitted, func(snap *SessionSnapshot) {
		snap.UserMessageID = &userMsg.ID
		snap.AssistantMessageID = nil
		snap.ErrorCode, snap.Error = "", ""
	}); err != nil {
		return nil, err
	}
	sink.UserMessage(userMsg)

	result := &TurnResult{UserMessage: userMsg, Quota: quota}
	assistant, err := s.generate(ctx, sess, chat, model, sink)
	if err != nil {
		return result, err
	}
	result.AssistantMessage = assistant
	return result, nil
}

// replay answers a repeated submission with what the first one produced.
func (s *sessionService) replay(ctx context.Context, userMsg *domain.Message) (*TurnResult, error) {
	res := &TurnResult{UserMessage: userMsg, Replayed: true}
	history, err := s.messages.ListByChat(dbctx.New(ctx), userMsg.ChatID)
	if err != nil {
		return nil, err
	}
	for i, m := range history {
		if m.ID != userMsg.ID {
			continue
		}
		if i+1 < len(history) && history[i+1].Role == domain.RoleAssistant {
			res.AssistantMessage = history[i+1]
		}
		break
	}
	s.log.Info("idempotent submission replayed", "chat_id", userMsg.ChatID, "message_id", userMsg.ID)
	return res, nil
}

func (s *sessionService) Reload(ctx context.Context, in ReloadInput, sink EventSink) (*TurnResult, error) {
	if sink == nil {
		sink = nopSink{}
	}
	if err := requireUser(in.RequesterID); err != nil {
		return nil, err
	}
	model := s.model(in.Model)

	ctx, span := tracer.Start(ctx, "chat.reload", trace.WithAttributes(
		attribute.String("chat.id", in.ChatID.String()),
		attribute.String("chat.model", model),
	))
	defer span.End()

	res, err := s.reload(ctx, in, model, sink)
	recordSpan(span, res, err)
	return res, err
}

func (s *sessionService) reload(ctx context.Context, in ReloadInput, model string, sink EventSink) (*TurnResult, error) {
	release, err := s.locks.Acquire(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	defer release()

	chat, err := s.ownedChat(ctx, in.ChatID, in.RequesterID)
	if err != nil {
		return nil, err
	}
	history, err := s.messages.ListByChat(dbctx.New(ctx), chat.ID)
	if err != nil {
		return nil, err
	}
	var lastUser *domain.Message
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			lastUser = history[i]
			break
		}
	}
	if lastUser == nil {
		return nil, apierr.Validation("chat has no user message to regenerate from")
	}

	quota, err := s.consume(ctx, in.RequesterID, model)
	if err != nil {
		return nil, err
	}
	if history[len(history)-1].ID != lastUser.ID {
		if _, err := s.msgs.TruncateFrom(dbctx.New(ctx), chat.ID, in.RequesterID, lastUser.ID); err != nil {
			return nil, err
		}
	}

	sess := s.begin(chat, sink)
	if err := sess.to(StateSubmitted, func(snap *SessionSnapshot) {
		snap.UserMessageID = &lastUser.ID
		snap.AssistantMessageID = nil
		snap.ErrorCode, snap.Error = "", ""
	}); err != nil {
		return nil, err
	}

	result := &TurnResult{UserMessage: lastUser, Quota: quota}
	assistant, err := s.generate(ctx, sess, chat, model, sink)
	if err != nil {
		return result, err
	}
	result.AssistantMessage = assistant
	return result, nil
}

// generate streams one reply and commits it. Nothing is persisted unless the
// stream finished cleanly and the caller is still there.
func (s *sessionService) generate(ctx context.Context, sess *session, chat *domain.Chat, model string, sink EventSink) (*domain.Message, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	history, err := s.messages.ListByChat(dbctx.New(genCtx), chat.ID)
	if err != nil {
		return nil, s.fail(sess, chat, err)
	}
	stream, err := s.gen.Generate(genCtx, generation.Request{
		Model:        model,
		Instructions: s.cfg.Instructions,
		History:      history,
	})
	if err != nil {
		return nil, s.fail(sess, chat, classifyGenerationErr(ctx, genCtx, err))
	}
	defer stream.Close()

	acc := generation.NewAccumulator(s.now)
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.fail(sess, chat, classifyGenerationErr(ctx, genCtx, err))
		}
		if sess.State() == StateSubmitted {
			if err := sess.to(StateStreaming, nil); err != nil {
				return nil, err
			}
		}
		if err := acc.Add(*f); err != nil {
			return nil, s.fail(sess, chat, apierr.Upstream(err))
		}
		sink.Fragment(*f)
	}
	if err := genCtx.Err(); err != nil {
		return nil, s.fail(sess, chat, classifyGenerationErr(ctx, genCtx, err))
	}
	if acc.Empty() {
		return nil, s.fail(sess, chat, apierr.Upstream(errors.New("model returned no content")))
	}
	parts := acc.Parts()
	if err := parts.Validate(); err != nil {
		return nil, s.fail(sess, chat, apierr.Upstream(fmt.Errorf("model output: %w", err)))
	}

	committed, err := s.msgs.AppendMessage(dbctx.New(ctx), AppendInput{
		ChatID:   chat.ID,
		AuthorID: chat.OwnerUserID,
		Role:     domain.RoleAssistant,
		Parts:    parts,
		Metadata: acc.Metadata(model, stream.Usage()),
	})
	if err != nil {
		return nil, s.fail(sess, chat, classifyGenerationErr(ctx, genCtx, err))
	}
	msg := committed.Message
	if err := sess.to(StateReady, func(snap *SessionSnapshot) { snap.AssistantMessageID = &msg.ID }); err != nil {
		return nil, err
	}
	s.maybeTitle(ctx, chat)
	return msg, nil
}

// fail moves the session to error. A client that went away is recorded as
// canceled rather than as an upstream failure.
func (s *sessionService) fail(sess *session, chat *domain.Chat, err error) error {
	code, msg := "internal_error", err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		code, msg = "canceled", "generation canceled"
	default:
		if e, ok := apierr.As(err); ok {
			code = e.Code
		}
	}
	if terr := sess.to(StateError, func(snap *SessionSnapshot) {
		snap.ErrorCode, snap.Error = code, msg
	}); terr != nil {
		s.log.Warn("session transition failed", "chat_id", chat.ID, "error", terr)
	}
	s.log.Warn("turn failed", "chat_id", chat.ID, "code", code, "error", err)
	return err
}

// classifyGenerationErr keeps caller cancellation as context.Canceled and
// turns everything else, including our own deadline, into an upstream error.
func classifyGenerationErr(parent, genCtx context.Context, err error) error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		return apierr.Upstream(fmt.Errorf("generation timed out: %w", err))
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Upstream(err)
}

func (s *sessionService) maybeTitle(ctx context.Context, chat *domain.Chat) {
	if !chat.HasPlaceholderTitle() {
		return
	}
	n, err := s.messages.CountByRole(dbctx.New(ctx), chat.ID, domain.RoleAssistant)
	if err != nil || n != 1 {
		return
	}
	if err := s.dispatch.EnqueueTitle(context.WithoutCancel(ctx), chat.ID); err != nil {
		s.log.Warn("enqueue title generation failed", "chat_id", chat.ID, "error", err)
	}
}

func (s *sessionService) EditAndTruncate(ctx context.Context, in TruncateInput) (*TruncateResult, error) {
	if err := requireUser(in.OwnerID); err != nil {
		return nil, err
	}
	release, err := s.locks.Acquire(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &TruncateResult{}
	if in.ForkFirst {
		if s.sharing == nil {
			return nil, apierr.Validation("forking is not available")
		}
		fork, err := s.sharing.ForkChat(dbctx.New(ctx), ForkInput{SourceChatID: in.ChatID, NewOwnerID: in.OwnerID})
		if err != nil {
			return nil, err
		}
		res.ForkChatID = &fork.ID
	}
	removed, err := s.msgs.TruncateFrom(dbctx.New(ctx), in.ChatID, in.OwnerID, in.AfterMessageID)
	if err != nil {
		return nil, err
	}
	res.Removed = removed
	return res, nil
}

func (s *sessionService) Snapshot(ctx context.Context, chatID uuid.UUID, requesterID uuid.UUID) (SessionSnapshot, error) {
	if err := requireUser(requesterID); err != nil {
		return SessionSnapshot{}, err
	}
	chat, err := s.chats.GetByID(dbctx.New(ctx), chatID)
	if err != nil {
		return SessionSnapshot{}, err
	}
	if err := requireReadable(chat, requesterID); err != nil {
		return SessionSnapshot{}, err
	}
	return s.registry.Get(chatID), nil
}

func recordSpan(span trace.Span, res *TurnResult, err error) {
	if res != nil {
		span.SetAttributes(attribute.Bool("chat.replayed", res.Replayed))
		if res.AssistantMessage != nil {
			if md := res.AssistantMessage.GenerationMetadata(); md != nil {
				span.SetAttributes(
					attribute.Int("chat.completion_tokens", md.CompletionTokens),
					attribute.Int64("chat.ttft_ms", md.TimeToFirstTokenMS),
				)
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
