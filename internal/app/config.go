package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/chatcore-backend/internal/data/db"
	"github.com/yungbote/chatcore-backend/internal/observability"
	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/neo4jdb"
	"github.com/yungbote/chatcore-backend/internal/ratelimit"
	"github.com/yungbote/chatcore-backend/internal/temporalx"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port        string
	LogMode     string
	ServiceName string
	Environment string

	DatabaseDriver string
	Postgres       db.PostgresConfig
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTIssuer string

	ObjectStorageMode     string
	Storage               blob.Config
	GCSCDNDomain          string
	GCSCredentialsJSON    string
	GCSCredentialsFile    string
	AttachmentMaxBytes    int64
	AttachmentOrphanGrace time.Duration
	AttachmentSweepEvery  time.Duration
	AllowedOrigins        []string

	// FreeTierModels are the resource keys the limiter applies to. Unset means
	// the default OPENAI_MODEL; "none" turns the quota off.
	FreeTierModels      []string
	RateLimitCapacity   int
	RateLimitWindow     time.Duration
	SessionTimeout      time.Duration
	SessionInstructions string
	TurnLockTTL         time.Duration

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAITitleModel string
	OpenAITimeout    time.Duration
	OpenAIMaxRetries int

	LocalJobWorkers     int
	LocalJobQueueSize   int
	LocalJobMaxAttempts int
	LocalJobRetryDelay  time.Duration
	ShutdownTimeout     time.Duration
	RunTemporalWorker   bool
	RealtimeChannel     string

	Temporal temporalx.Config
	Neo4j    neo4jdb.Config
	Otel     observability.OtelConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_MODE", "development")
	v.SetDefault("SERVICE_NAME", "chatcore")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_NAME", "chatcore")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_OPEN_CONNS", 25)
	v.SetDefault("POSTGRES_MAX_IDLE_CONNS", 10)
	v.SetDefault("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("SQLITE_PATH", "file:chatcore.db?_foreign_keys=on&_busy_timeout=5000")

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("OBJECT_STORAGE_MODE", "")
	v.SetDefault("LOCAL_BLOB_DIR", "./data/blobs")
	v.SetDefault("ATTACHMENT_MAX_BYTES", 20<<20)
	v.SetDefault("ATTACHMENT_ORPHAN_GRACE", time.Hour)
	v.SetDefault("ATTACHMENT_SWEEP_INTERVAL", 15*time.Minute)

	v.SetDefault("FREE_TIER_MODELS", "")
	v.SetDefault("RATE_LIMIT_CAPACITY", ratelimit.DefaultCapacity)
	v.SetDefault("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow)
	v.SetDefault("SESSION_TIMEOUT", 2*time.Minute)
	v.SetDefault("TURN_LOCK_TTL", 5*time.Minute)

	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("OPENAI_MODEL", "gpt-4.1-mini")
	v.SetDefault("OPENAI_TITLE_MODEL", "")
	v.SetDefault("OPENAI_TIMEOUT", 60*time.Second)
	v.SetDefault("OPENAI_MAX_RETRIES", 2)

	v.SetDefault("LOCAL_JOB_WORKERS", 2)
	v.SetDefault("LOCAL_JOB_QUEUE_SIZE", 256)
	v.SetDefault("LOCAL_JOB_MAX_ATTEMPTS", 3)
	v.SetDefault("LOCAL_JOB_RETRY_DELAY", 2*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 20*time.Second)
	v.SetDefault("RUN_TEMPORAL_WORKER", true)

	v.SetDefault("TEMPORAL_NAMESPACE", temporalx.DefaultNamespace)
	v.SetDefault("TEMPORAL_TASK_QUEUE", temporalx.DefaultTaskQueue)
	v.SetDefault("TEMPORAL_SWEEP_CRON", temporalx.DefaultSweepCron)
	v.SetDefault("TEMPORAL_AUTO_REGISTER_NAMESPACE", false)

	v.SetDefault("NEO4J_USER", "neo4j")
	v.SetDefault("NEO4J_DATABASE", "neo4j")
	v.SetDefault("NEO4J_TIMEOUT", 10*time.Second)

	v.SetDefault("OTEL_EXPORTER", observability.ExporterNone)
	v.SetDefault("OTEL_SAMPLE_RATIO", 0.1)
}

// LoadConfig reads defaults, then the optional yaml file named by
// CHATCORE_CONFIG, then the environment. Later sources win.
func LoadConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CHATCORE_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}
	return configFrom(v)
}

func configFrom(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:        v.GetString("PORT"),
		LogMode:     v.GetString("LOG_MODE"),
		ServiceName: v.GetString("SERVICE_NAME"),
		Environment: v.GetString("ENVIRONMENT"),

		DatabaseDriver: strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		Postgres: db.PostgresConfig{
			Host:            v.GetString("POSTGRES_HOST"),
			Port:            v.GetString("POSTGRES_PORT"),
			User:            v.GetString("POSTGRES_USER"),
			Password:        v.GetString("POSTGRES_PASSWORD"),
			Name:            v.GetString("POSTGRES_NAME"),
			SSLMode:         v.GetString("POSTGRES_SSLMODE"),
			MaxOpenConns:    v.GetInt("POSTGRES_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("POSTGRES_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("POSTGRES_CONN_MAX_LIFETIME"),
		},
		SQLitePath: v.GetString("SQLITE_PATH"),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),

		ObjectStorageMode: v.GetString("OBJECT_STORAGE_MODE"),
		Storage: blob.Config{
			Bucket:        v.GetString("GCS_BUCKET"),
			EmulatorHost:  v.GetString("STORAGE_EMULATOR_HOST"),
			PublicBaseURL: v.GetString("PUBLIC_BLOB_BASE_URL"),
			LocalDir:      v.GetString("LOCAL_BLOB_DIR"),
		},
		GCSCDNDomain:          v.GetString("GCS_CDN_DOMAIN"),
		GCSCredentialsJSON:    v.GetString("GCS_CREDENTIALS_JSON"),
		GCSCredentialsFile:    v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		AttachmentMaxBytes:    v.GetInt64("ATTACHMENT_MAX_BYTES"),
		AttachmentOrphanGrace: v.GetDuration("ATTACHMENT_ORPHAN_GRACE"),
		AttachmentSweepEvery:  v.GetDuration("ATTACHMENT_SWEEP_INTERVAL"),
		AllowedOrigins:        splitList(v.GetString("CORS_ALLOWED_ORIGINS")),

		FreeTierModels:      splitList(v.GetString("FREE_TIER_MODELS")),
		RateLimitCapacity:   v.GetInt("RATE_LIMIT_CAPACITY"),
		RateLimitWindow:     v.GetDuration("RATE_LIMIT_WINDOW"),
		SessionTimeout:      v.GetDuration("SESSION_TIMEOUT"),
		SessionInstructions: v.GetString("SESSION_INSTRUCTIONS"),
		TurnLockTTL:         v.GetDuration("TURN_LOCK_TTL"),

		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:      v.GetString("OPENAI_MODEL"),
		OpenAITitleModel: v.GetString("OPENAI_TITLE_MODEL"),
		OpenAITimeout:    v.GetDuration("OPENAI_TIMEOUT"),
		OpenAIMaxRetries: v.GetInt("OPENAI_MAX_RETRIES"),

		LocalJobWorkers:     v.GetInt("LOCAL_JOB_WORKERS"),
		LocalJobQueueSize:   v.GetInt("LOCAL_JOB_QUEUE_SIZE"),
		LocalJobMaxAttempts: v.GetInt("LOCAL_JOB_MAX_ATTEMPTS"),
		LocalJobRetryDelay:  v.GetDuration("LOCAL_JOB_RETRY_DELAY"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),
		RunTemporalWorker:   v.GetBool("RUN_TEMPORAL_WORKER"),
		RealtimeChannel:     v.GetString("REALTIME_REDIS_CHANNEL"),

		Temporal: temporalx.Config{
			Address:               v.GetString("TEMPORAL_ADDRESS"),
			Namespace:             v.GetString("TEMPORAL_NAMESPACE"),
			TaskQueue:             v.GetString("TEMPORAL_TASK_QUEUE"),
			SweepCron:             v.GetString("TEMPORAL_SWEEP_CRON"),
			AutoRegisterNamespace: v.GetBool("TEMPORAL_AUTO_REGISTER_NAMESPACE"),
			ClientCertPath:        v.GetString("TEMPORAL_TLS_CERT"),
			ClientKeyPath:         v.GetString("TEMPORAL_TLS_KEY"),
			ClientCAPath:          v.GetString("TEMPORAL_TLS_CA"),
		}.WithDefaults(),

		Neo4j: neo4jdb.Config{
			URI:      v.GetString("NEO4J_URI"),
			User:     v.GetString("NEO4J_USER"),
			Password: v.GetString("NEO4J_PASSWORD"),
			Database: v.GetString("NEO4J_DATABASE"),
			Timeout:  v.GetDuration("NEO4J_TIMEOUT"),
		},
	}
	switch {
	case len(cfg.FreeTierModels) == 0 && cfg.OpenAIModel != "":
		cfg.FreeTierModels = []string{cfg.OpenAIModel}
	case len(cfg.FreeTierModels) == 1 && strings.EqualFold(cfg.FreeTierModels[0], "none"):
		cfg.FreeTierModels = []string{}
	}
	cfg.Otel = observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     v.GetString("SERVICE_VERSION"),
		Exporter:    v.GetString("OTEL_EXPORTER"),
		Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Headers:     observability.ParseHeaders(v.GetString("OTEL_EXPORTER_OTLP_HEADERS")),
		Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		SampleRatio: v.GetFloat64("OTEL_SAMPLE_RATIO"),
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return cfg, fmt.Errorf("invalid DATABASE_DRIVER=%q (allowed: %q, %q)", cfg.DatabaseDriver, DriverPostgres, DriverSQLite)
	}
	if cfg.RateLimitCapacity <= 0 {
		return cfg, fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}
	if cfg.RateLimitWindow <= 0 {
		return cfg, fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.TurnLockTTL <= cfg.SessionTimeout {
		return cfg, fmt.Errorf("TURN_LOCK_TTL (%s) must exceed SESSION_TIMEOUT (%s)", cfg.TurnLockTTL, cfg.SessionTimeout)
	}
	return cfg, nil
}

func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
