package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/chatcore-backend/internal/platform/envutil"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/temporalx"
	"github.com/yungbote/chatcore-backend/internal/temporalx/jobrun"
)

type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	cfg  temporalx.Config
	acts *jobrun.Activities
	w    worker.Worker
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, acts *jobrun.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil || acts.Titles == nil || acts.Attachments == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), tc: tc, cfg: cfg.WithDefaults(), acts: acts}, nil
}

// Start polls the task queue in the background and schedules the sweep cron.
// The worker stops when ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	maxWait := envutil.Duration("TEMPORAL_WORKER_START_MAX_WAIT", time.Minute)
	backoff := envutil.Duration("TEMPORAL_WORKER_START_BACKOFF", 250*time.Millisecond)
	backoffMax := envutil.Duration("TEMPORAL_WORKER_START_BACKOFF_MAX", 5*time.Second)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			r.w = w
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return r.scheduleSweep(ctx)
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missing := errors.As(startErr, &nfe)
		if missing && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if missing {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(temporalx.ClampBackoff(backoff, backoffMax, attempt))
	}
}

func (r *Runner) Stop() {
	if r != nil && r.w != nil {
		r.w.Stop()
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	Register(w, r.acts)
	return w
}

// Register binds every chatcore workflow and activity under its stable name.
func Register(w worker.Registry, acts *jobrun.Activities) {
	w.RegisterWorkflowWithOptions(jobrun.TitleWorkflow, workflow.RegisterOptions{Name: jobrun.WorkflowTitle})
	w.RegisterWorkflowWithOptions(jobrun.CleanupWorkflow, workflow.RegisterOptions{Name: jobrun.WorkflowCleanup})
	w.RegisterWorkflowWithOptions(jobrun.SweepWorkflow, workflow.RegisterOptions{Name: jobrun.WorkflowSweep})
	w.RegisterActivityWithOptions(acts.GenerateTitle, activity.RegisterOptions{Name: jobrun.ActivityTitle})
	w.RegisterActivityWithOptions(acts.CleanupAttachments, activity.RegisterOptions{Name: jobrun.ActivityCleanup})
	w.RegisterActivityWithOptions(acts.SweepAttachments, activity.RegisterOptions{Name: jobrun.ActivitySweep})
}

func (r *Runner) scheduleSweep(ctx context.Context) error {
	if r.cfg.SweepCron == "" {
		return nil
	}
	_, err := r.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:           jobrun.SweepWorkflowID,
		TaskQueue:    r.cfg.TaskQueue,
		CronSchedule: r.cfg.SweepCron,
	}, jobrun.WorkflowSweep)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if err != nil && !errors.As(err, &started) {
		return fmt.Errorf("schedule attachment sweep: %w", err)
	}
	r.log.Info("Attachment sweep scheduled", "cron", r.cfg.SweepCron)
	return nil
}
