package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/services"
)

type Activities struct {
	Log         *logger.Logger
	Titles      services.TitleService
	Attachments services.AttachmentService
}

func (a *Activities) GenerateTitle(ctx context.Context, chatID string) error {
	if a == nil || a.Titles == nil {
		return fmt.Errorf("jobrun: title activity not configured")
	}
	id, err := uuid.Parse(strings.TrimSpace(chatID))
	if err != nil || id == uuid.Nil {
		return temporal.NewNonRetryableApplicationError("invalid chat_id", "invalid_argument", err)
	}
	updated, err := a.Titles.GenerateTitle(ctx, id)
	if err != nil {
		return nonRetryableIfTerminal(err)
	}
	a.Log.Debug("title activity finished", "chat_id", id, "updated", updated)
	return nil
}

func (a *Activities) CleanupAttachments(ctx context.Context, ids []string) (CleanupResult, error) {
	res := CleanupResult{Requested: len(ids)}
	if a == nil || a.Attachments == nil {
		return res, fmt.Errorf("jobrun: cleanup activity not configured")
	}
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			parsed = append(parsed, id)
		}
	}
	stop := startHeartbeat(ctx)
	defer stop()
	n, err := a.Attachments.Cleanup(ctx, parsed)
	res.Deleted = n
	if err != nil {
		return res, nonRetryableIfTerminal(err)
	}
	return res, nil
}

func (a *Activities) SweepAttachments(ctx context.Context) (SweepResult, error) {
	if a == nil || a.Attachments == nil {
		return SweepResult{}, fmt.Errorf("jobrun: sweep activity not configured")
	}
	stop := startHeartbeat(ctx)
	defer stop()
	out, err := a.Attachments.Sweep(ctx)
	return SweepResult{Rows: out.Rows, Blobs: out.Blobs}, err
}

// nonRetryableIfTerminal stops Temporal from retrying errors that will not
// change on retry, such as a chat that was deleted meanwhile.
func nonRetryableIfTerminal(err error) error {
	if err == nil || apierr.Retryable(err) {
		return err
	}
	if e, ok := apierr.As(err); ok {
		return temporal.NewNonRetryableApplicationError(e.Error(), e.Code, err)
	}
	return err
}

func startHeartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
