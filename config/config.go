package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig

	// Log level understood by logrus (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port string `env:"SERVER_PORT" envDefault:"5250"`

	// Origins allowed by the CORS middleware
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Token expected in the X-Admin-Token header of operator routes.
	// Operator routes are disabled when empty.
	AdminToken string `env:"ADMIN_TOKEN"`
}

type DatabaseConfig struct {
	Path         string `env:"DATABASE_PATH" envDefault:"database/listings.db"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"4"`
}

type SyncConfig struct {
	// Listings per proximity batch chunk; listings of one chunk run concurrently
	ChunkSize int `env:"SYNC_CHUNK_SIZE" envDefault:"50"`

	// Age after which a valuation snapshot is recomputed by the intelligence batch
	StaleAfter time.Duration `env:"SYNC_STALE_AFTER" envDefault:"24h"`

	// Default number of listings recomputed per intelligence batch
	IntelligenceLimit int `env:"SYNC_INTELLIGENCE_LIMIT" envDefault:"200"`

	// Maximum number of retries for a failed listing
	MaxRetries int `env:"SYNC_MAX_RETRIES" envDefault:"2"`

	// Delay between retries
	RetryDelay time.Duration `env:"SYNC_RETRY_DELAY" envDefault:"500ms"`

	// Delete the fact rows of inactive POIs instead of keeping them
	PurgeInactiveFacts bool `env:"SYNC_PURGE_INACTIVE_FACTS" envDefault:"false"`
}

type QueueConfig struct {
	// Maximum number of pending trigger tasks
	BufferSize int `env:"QUEUE_BUFFER_SIZE" envDefault:"1000"`

	// Number of concurrent trigger workers
	Workers int `env:"QUEUE_WORKERS" envDefault:"2"`

	// Sustained trigger rate per second and burst size
	RatePerSecond float64 `env:"QUEUE_RATE_PER_SECOND" envDefault:"20"`
	Burst         int     `env:"QUEUE_BURST" envDefault:"10"`
}

type SchedulerConfig struct {
	// Interval between intelligence batch runs
	IntelligenceInterval time.Duration `env:"SCHEDULER_INTELLIGENCE_INTERVAL" envDefault:"1h"`

	// Hour of day (UTC) of the nightly proximity rebuild, negative to disable
	ProximityRebuildHour int `env:"SCHEDULER_PROXIMITY_REBUILD_HOUR" envDefault:"3"`
}

type CacheConfig struct {
	// Redis address of the nearby query cache; caching is disabled when empty
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL           time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// LoadConfig reads the optional env files (".env" when none are given) and
// parses the environment. Variables already set in the environment win.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Sync.ChunkSize <= 0:
		return fmt.Errorf("SYNC_CHUNK_SIZE must be positive, got %d", c.Sync.ChunkSize)
	case c.Sync.StaleAfter <= 0:
		return fmt.Errorf("SYNC_STALE_AFTER must be positive, got %s", c.Sync.StaleAfter)
	case c.Sync.MaxRetries < 0:
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative, got %d", c.Sync.MaxRetries)
	case c.Queue.BufferSize <= 0:
		return fmt.Errorf("QUEUE_BUFFER_SIZE must be positive, got %d", c.Queue.BufferSize)
	case c.Queue.Workers <= 0:
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Queue.Workers)
	case c.Scheduler.ProximityRebuildHour > 23:
		return fmt.Errorf("SCHEDULER_PROXIMITY_REBUILD_HOUR must be below 24, got %d", c.Scheduler.ProximityRebuildHour)
	}
	return nil
}
