package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/temporalx/jobrun"
)

// WorkflowStarter is the slice of the Temporal client the dispatcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// TemporalDispatcher starts one workflow per enqueued job. Title workflows
// use a per-chat id so a duplicate request is dropped while one is running.
type TemporalDispatcher struct {
	log       *logger.Logger
	tc        WorkflowStarter
	taskQueue string
}

func NewTemporalDispatcher(baseLog *logger.Logger, tc WorkflowStarter, taskQueue string) *TemporalDispatcher {
	return &TemporalDispatcher{log: baseLog.With("component", "TemporalDispatcher"), tc: tc, taskQueue: taskQueue}
}

func (d *TemporalDispatcher) EnqueueTitle(ctx context.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("enqueue title: missing chat id")
	}
	_, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    jobrun.TitleWorkflowID(chatID.String()),
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, jobrun.WorkflowTitle, chatID.String())
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		d.log.Debug("title workflow already running", "chat_id", chatID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue title: %w", err)
	}
	return nil
}

func (d *TemporalDispatcher) EnqueueAttachmentCleanup(ctx context.Context, attachmentIDs []uuid.UUID) error {
	if len(attachmentIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(attachmentIDs))
	for _, id := range attachmentIDs {
		ids = append(ids, id.String())
	}
	_, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        "attachment-cleanup-" + uuid.NewString(),
		TaskQueue: d.taskQueue,
	}, jobrun.WorkflowCleanup, ids)
	if err != nil {
		return fmt.Errorf("enqueue attachment cleanup: %w", err)
	}
	return nil
}
