package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"mediasearch"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"mediasearch"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"Segment"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI        bool   `envconfig:"ENABLE_API" default:"true"`
	EnableSyncWorker bool   `envconfig:"ENABLE_SYNC_WORKER" default:"true"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Embeddings
	EmbeddingsEnabled bool   `envconfig:"EMBEDDINGS_ENABLED" default:"false"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Sync queue & workers
	SyncQueues             []string      `envconfig:"SYNC_QUEUES" default:"segment,media"`
	SyncWorkerConcurrency  int           `envconfig:"SYNC_WORKER_CONCURRENCY" default:"4"`
	SyncPollInterval       time.Duration `envconfig:"SYNC_POLL_INTERVAL" default:"1s"`
	SyncMaxRetries         int           `envconfig:"SYNC_MAX_RETRIES" default:"5"`
	SyncBackoffInitial     time.Duration `envconfig:"SYNC_BACKOFF_INITIAL" default:"2s"`
	SyncBackoffMax         time.Duration `envconfig:"SYNC_BACKOFF_MAX" default:"5m"`
	SyncIndexTimeout       time.Duration `envconfig:"SYNC_INDEX_TIMEOUT" default:"10s"`
	SyncVisibilityTimeout  time.Duration `envconfig:"SYNC_VISIBILITY_TIMEOUT" default:"5m"`
	SyncReapInterval       time.Duration `envconfig:"SYNC_REAP_INTERVAL" default:"1m"`
	SyncStuckCheckInterval time.Duration `envconfig:"SYNC_STUCK_CHECK_INTERVAL" default:"1m"`
	SyncHookBuffer         int           `envconfig:"SYNC_HOOK_BUFFER" default:"1024"`

	// Index admission control (requests per second toward the search index)
	IndexRateLimit float64 `envconfig:"INDEX_RATE_LIMIT" default:"50"`
	IndexRateBurst int     `envconfig:"INDEX_RATE_BURST" default:"10"`

	ReindexBatchSize int `envconfig:"REINDEX_BATCH_SIZE" default:"100"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if len(c.SyncQueues) == 0 {
		return fmt.Errorf("%w: SYNC_QUEUES", ErrMissingRequired)
	}
	if c.EmbeddingsEnabled && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY (EMBEDDINGS_ENABLED=true)", ErrMissingRequired)
	}
	if c.SyncWorkerConcurrency < 1 {
		return fmt.Errorf("%w: SYNC_WORKER_CONCURRENCY must be at least 1", ErrInvalidValue)
	}
	if c.SyncMaxRetries < 0 {
		return fmt.Errorf("%w: SYNC_MAX_RETRIES must not be negative", ErrInvalidValue)
	}
	if c.ReindexBatchSize < 1 {
		return fmt.Errorf("%w: REINDEX_BATCH_SIZE must be at least 1", ErrInvalidValue)
	}
	return nil
}

// BootstrapRetryDelay is the pause between connection attempts during startup.
func (c *Config) BootstrapRetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}
