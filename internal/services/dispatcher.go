package services

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
)

// Dispatcher hands work to the background runner. Implementations must not
// block the caller on the work itself.
type Dispatcher interface {
	EnqueueTitle(ctx context.Context, chatID uuid.UUID) error
	EnqueueAttachmentCleanup(ctx context.Context, attachmentIDs []uuid.UUID) error
}

// LineageProjector mirrors fork lineage into a secondary store. Failures are
// logged by callers, never surfaced.
type LineageProjector interface {
	ChatCreated(ctx context.Context, chat *domain.Chat) error
	ChatForked(ctx context.Context, parent *domain.Chat, child *domain.Chat) error
	ChatDeleted(ctx context.Context, chatID uuid.UUID) error
}

type noopDispatcher struct{}

func (noopDispatcher) EnqueueTitle(context.Context, uuid.UUID) error               { return nil }
func (noopDispatcher) EnqueueAttachmentCleanup(context.Context, []uuid.UUID) error { return nil }

type noopProjector struct{}

func (noopProjector) ChatCreated(context.Context, *domain.Chat) error              { return nil }
func (noopProjector) ChatForked(context.Context, *domain.Chat, *domain.Chat) error { return nil }
func (noopProjector) ChatDeleted(context.Context, uuid.UUID) error                 { return nil }
