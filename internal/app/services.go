package app

import (
	"fmt"

	"github.com/yungbote/chatcore-backend/internal/data/graph"
	"github.com/yungbote/chatcore-backend/internal/jobs"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/ratelimit"
	"github.com/yungbote/chatcore-backend/internal/realtime"
	"github.com/yungbote/chatcore-backend/internal/realtime/bus"
	"github.com/yungbote/chatcore-backend/internal/services"
	"github.com/yungbote/chatcore-backend/internal/temporalx/jobrun"
	"github.com/yungbote/chatcore-backend/internal/temporalx/temporalworker"
)

type Services struct {
	// Core
	Chat       services.ChatService
	Message    services.MessageService
	Attachment services.AttachmentService
	Sharing    services.SharingService
	Session    services.SessionService
	Title      services.TitleService
	Limiter    *ratelimit.Limiter

	// Realtime
	Hub          *realtime.SSEHub
	SSEBus       bus.Bus
	ChatNotifier services.ChatNotifier

	// Background work. Exactly one of LocalJobs and a Temporal dispatcher is
	// in use; TemporalWorker is set only when this process also polls.
	Dispatcher     services.Dispatcher
	LocalJobs      *jobs.LocalDispatcher
	Sweeper        *jobs.Sweeper
	TemporalWorker *temporalworker.Runner
}

func wireServices(log *logger.Logger, cfg Config, repos Repos, clients *Clients) (Services, error) {
	log.Info("Wiring services...")
	theDB := clients.DB

	hub := realtime.NewSSEHub(log)
	var sseBus bus.Bus = bus.NewLocalBus()
	if clients.Redis != nil {
		b, err := bus.NewRedisBus(log, clients.Redis, cfg.RealtimeChannel)
		if err != nil {
			return Services{}, fmt.Errorf("init realtime bus: %w", err)
		}
		sseBus = b
	}
	chatNotifier := services.NewChatNotifier(&services.BusEmitter{Bus: sseBus, Log: log})

	var quotaStore ratelimit.Store = ratelimit.NewMemoryStore()
	var turnLocks services.TurnLocker = services.NewMemoryTurnLocker()
	if clients.Redis != nil {
		quotaStore = ratelimit.NewRedisStore(clients.Redis)
		turnLocks = services.NewRedisTurnLocker(clients.Redis, cfg.TurnLockTTL)
	}
	if len(cfg.FreeTierModels) == 0 {
		log.Warn("free tier quota disabled", "reason", "FREE_TIER_MODELS=none")
	}
	limiter, err := ratelimit.NewLimiter(quotaStore, log, ratelimit.Config{
		Capacity:  cfg.RateLimitCapacity,
		Window:    cfg.RateLimitWindow,
		Resources: cfg.FreeTierModels,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init rate limiter: %w", err)
	}

	titlePrompt, err := services.LoadTitlePrompt(nil)
	if err != nil {
		return Services{}, err
	}
	titleService := services.NewTitleService(log, repos.Chats, repos.Messages, clients.Model, chatNotifier, titlePrompt, cfg.OpenAITitleModel)
	attachmentService := services.NewAttachmentService(theDB, log, repos.Attachments, clients.Blob.Store, services.AttachmentConfig{
		MaxBytes:    cfg.AttachmentMaxBytes,
		OrphanGrace: cfg.AttachmentOrphanGrace,
	})

	var (
		dispatcher     services.Dispatcher
		localJobs      *jobs.LocalDispatcher
		sweeper        *jobs.Sweeper
		temporalRunner *temporalworker.Runner
	)
	if clients.Temporal != nil {
		dispatcher = jobs.NewTemporalDispatcher(log, clients.Temporal, cfg.Temporal.TaskQueue)
		if cfg.RunTemporalWorker {
			w, err := temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, &jobrun.Activities{
				Log:         log.With("component", "JobActivities"),
				Titles:      titleService,
				Attachments: attachmentService,
			})
			if err != nil {
				return Services{}, fmt.Errorf("init temporal worker: %w", err)
			}
			temporalRunner = w
		}
	} else {
		localJobs = jobs.NewLocalDispatcher(log, titleService, attachmentService, jobs.LocalConfig{
			Workers:     cfg.LocalJobWorkers,
			QueueSize:   cfg.LocalJobQueueSize,
			MaxAttempts: cfg.LocalJobMaxAttempts,
			RetryDelay:  cfg.LocalJobRetryDelay,
		})
		dispatcher = localJobs
		sweeper = jobs.NewSweeper(log, attachmentService, cfg.AttachmentSweepEvery)
	}

	lineage := graph.NewLineageProjector(clients.Neo4j, log)

	chatService := services.NewChatService(theDB, log, repos.Chats, repos.Messages, repos.Attachments, dispatcher, lineage, chatNotifier)
	messageService := services.NewMessageService(theDB, log, repos.Chats, repos.Messages, repos.Attachments, dispatcher, chatNotifier)
	sharingService := services.NewSharingService(theDB, log, repos.Chats, repos.Messages, repos.Attachments, lineage, chatNotifier)
	sessionService := services.NewSessionService(
		log,
		repos.Chats,
		repos.Messages,
		messageService,
		sharingService,
		clients.Model,
		limiter,
		turnLocks,
		services.NewSessionRegistry(),
		dispatcher,
		chatNotifier,
		services.SessionConfig{
			DefaultModel: clients.Model.DefaultModel(),
			Instructions: cfg.SessionInstructions,
			Timeout:      cfg.SessionTimeout,
		},
	)

	return Services{
		Chat:           chatService,
		Message:        messageService,
		Attachment:     attachmentService,
		Sharing:        sharingService,
		Session:        sessionService,
		Title:          titleService,
		Limiter:        limiter,
		Hub:            hub,
		SSEBus:         sseBus,
		ChatNotifier:   chatNotifier,
		Dispatcher:     dispatcher,
		LocalJobs:      localJobs,
		Sweeper:        sweeper,
		TemporalWorker: temporalRunner,
	}, nil
}
