package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/services"
)

var ErrDispatcherClosed = errors.New("jobs: dispatcher closed")

const (
	jobTitle   = "chat_title"
	jobCleanup = "attachment_cleanup"
)

type job struct {
	kind string
	run  func(ctx context.Context) error
}

type LocalConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
	JobTimeout  time.Duration
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	return c
}

// LocalDispatcher runs jobs on a bounded pool of goroutines inside the API
// process. Queued work is lost on restart; the sweeper picks up orphaned
// attachments later.
type LocalDispatcher struct {
	log         *logger.Logger
	titles      services.TitleService
	attachments services.AttachmentService
	cfg         LocalConfig

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewLocalDispatcher(baseLog *logger.Logger, titles services.TitleService, attachments services.AttachmentService, cfg LocalConfig) *LocalDispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		log:         baseLog.With("component", "LocalDispatcher"),
		titles:      titles,
		attachments: attachments,
		cfg:         cfg,
		queue:       make(chan job, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

func (d *LocalDispatcher) EnqueueTitle(_ context.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("enqueue title: missing chat id")
	}
	return d.enqueue(job{kind: jobTitle, run: func(ctx context.Context) error {
		_, err := d.titles.GenerateTitle(ctx, chatID)
		return err
	}})
}

func (d *LocalDispatcher) EnqueueAttachmentCleanup(_ context.Context, attachmentIDs []uuid.UUID) error {
	if len(attachmentIDs) == 0 {
		return nil
	}
	ids := append([]uuid.UUID(nil), attachmentIDs...)
	return d.enqueue(job{kind: jobCleanup, run: func(ctx context.Context) error {
		_, err := d.attachments.Cleanup(ctx, ids)
		return err
	}})
}

func (d *LocalDispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- j:
		return nil
	default:
		return fmt.Errorf("jobs: queue full (%d), dropping %s", cap(d.queue), j.kind)
	}
}

// Close stops accepting work, lets the workers drain the queue and waits for
// them, or gives up when ctx ends first.
func (d *LocalDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *LocalDispatcher) loop() {
	defer d.wg.Done()
	for j := range d.queue {
		d.runWithRetry(j)
	}
}

func (d *LocalDispatcher) runWithRetry(j job) {
	for attempt := 1; ; attempt++ {
		err := d.runOnce(j)
		if err == nil {
			return
		}
		if attempt >= d.cfg.MaxAttempts || !apierr.Retryable(err) || d.ctx.Err() != nil {
			d.log.Warn("Job failed", "job_type", j.kind, "attempts", attempt, "error", err)
			return
		}
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(d.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (d *LocalDispatcher) runOnce(j job) (err error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Job handler panic", "job_type", j.kind, "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return j.run(ctx)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
