package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	redisclient "github.com/yungbote/chatcore-backend/internal/clients/redis"
	"github.com/yungbote/chatcore-backend/internal/data/db"
	"github.com/yungbote/chatcore-backend/internal/observability"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/platform/neo4jdb"
	"github.com/yungbote/chatcore-backend/internal/platform/openai"
	"github.com/yungbote/chatcore-backend/internal/temporalx"
)

// Clients owns every connection the process opens. Optional backends are
// nil when unconfigured.
type Clients struct {
	DB       *gorm.DB
	Redis    *goredis.Client
	Blob     blobStoreResult
	Model    *openai.Client
	Temporal temporalsdkclient.Client
	Neo4j    *neo4jdb.Client

	otelShutdown func(context.Context) error
}

// OpenDatabase opens the configured driver. It does not migrate.
func OpenDatabase(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case DriverSQLite:
		return db.NewSQLite(cfg.SQLitePath, log)
	default:
		return db.NewPostgres(cfg.Postgres, log)
	}
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (*Clients, error) {
	log.Info("Wiring clients...")
	c := &Clients{}
	c.otelShutdown = observability.InitOTel(ctx, log, cfg.Otel)

	theDB, err := OpenDatabase(cfg, log)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init database: %w", err)
	}
	c.DB = theDB
	if err := db.AutoMigrateAll(theDB); err != nil {
		c.Close(ctx)
		return nil, err
	}

	// Redis
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewClient(ctx, log, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
	} else {
		log.Warn("REDIS_ADDR not set; quota, turn locks and realtime fan-out are process local")
	}

	// Blob
	blobs, err := resolveBlobStore(ctx, log, cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Blob = blobs

	// Model
	model, err := openai.NewClient(log, openai.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		Timeout:    cfg.OpenAITimeout,
		MaxRetries: cfg.OpenAIMaxRetries,
	})
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	c.Model = model

	// Temporal
	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init temporal client: %w", err)
	}
	c.Temporal = tc

	// Neo4j
	graph, err := neo4jdb.New(log, cfg.Neo4j)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	c.Neo4j = graph

	return c, nil
}

func (c *Clients) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(ctx)
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Blob.Close != nil {
		_ = c.Blob.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if c.otelShutdown != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = c.otelShutdown(flushCtx)
	}
}
