package jobs

import (
	"context"
	"time"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/services"
)

// Sweeper runs the orphan attachment sweep on a ticker. It is used when no
// Temporal cluster owns the cron schedule.
type Sweeper struct {
	log         *logger.Logger
	attachments services.AttachmentService
	interval    time.Duration
}

func NewSweeper(baseLog *logger.Logger, attachments services.AttachmentService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{log: baseLog.With("component", "AttachmentSweeper"), attachments: attachments, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) RunOnce(ctx context.Context) services.SweepResult {
	res, err := s.attachments.Sweep(ctx)
	if err != nil {
		s.log.Warn("Attachment sweep failed", "error", err)
		return res
	}
	if res.Rows > 0 || res.Blobs > 0 {
		s.log.Info("Attachment sweep", "rows", res.Rows, "blobs", res.Blobs)
	}
	return res
}
