package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var retry = &temporal.RetryPolicy{
	InitialInterval:    2 * time.Second,
	BackoffCoefficient: 2,
	MaximumInterval:    time.Minute,
	MaximumAttempts:    5,
}

// TitleWorkflow titles one chat. Failure leaves the placeholder title.
func TitleWorkflow(ctx workflow.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("jobrun: missing chat_id")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{InitialInterval: time.Second, MaximumAttempts: 3},
	})
	return workflow.ExecuteActivity(ctx, ActivityTitle, chatID).Get(ctx, nil)
}

func CleanupWorkflow(ctx workflow.Context, attachmentIDs []string) (CleanupResult, error) {
	var out CleanupResult
	if len(attachmentIDs) == 0 {
		return out, nil
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         retry,
	})
	err := workflow.ExecuteActivity(ctx, ActivityCleanup, attachmentIDs).Get(ctx, &out)
	return out, err
}

// SweepWorkflow runs once per cron tick.
func SweepWorkflow(ctx workflow.Context) (SweepResult, error) {
	var out SweepResult
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         retry,
	})
	err := workflow.ExecuteActivity(ctx, ActivitySweep).Get(ctx, &out)
	if err == nil && (out.Rows > 0 || out.Blobs > 0) {
		workflow.GetLogger(ctx).Info("attachment sweep", "rows", out.Rows, "blobs", out.Blobs)
	}
	return out, err
}
