package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
)

// storeErr keeps taxonomy errors and cancellations, and reports anything else
// from a transaction as a store failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apierr.StoreUnavailable(op, err)
}

func requireUser(userID uuid.UUID) error {
	if userID == uuid.Nil {
		return apierr.Validation("missing user id")
	}
	return nil
}

func requireOwner(chat *domain.Chat, userID uuid.UUID) error {
	if !chat.OwnedBy(userID) {
		return apierr.Forbidden("only the chat owner may modify this chat")
	}
	return nil
}

func requireReadable(chat *domain.Chat, userID uuid.UUID) error {
	if !chat.ReadableBy(userID) {
		return apierr.Forbidden("chat is not shared")
	}
	return nil
}
