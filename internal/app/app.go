// Package app wires the sync engine's components from configuration. Both the
// HTTP server and the operator CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"propmarket/server/config"
	"propmarket/server/internal/cache"
	"propmarket/server/internal/database"
	"propmarket/server/internal/models"
	"propmarket/server/internal/processor"
	"propmarket/server/internal/proximity"
	"propmarket/server/internal/valuation"
)

// NearbyFinder answers nearby queries, cached or straight from the store.
type NearbyFinder interface {
	NearbyPOIs(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, error)
}

type App struct {
	Config    *config.Config
	Store     *database.Database
	Cache     *cache.NearbyCache
	Nearby    NearbyFinder
	Syncer    *proximity.Synchronizer
	Valuation *valuation.Service
	Processor *processor.BatchProcessor

	redis  *redis.Client
	logger *logrus.Logger
}

// NewLogger returns a JSON logrus logger at the given level.
func NewLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)
	return logger, nil
}

// New opens the database, runs migrations and builds every component. The
// nearby cache is only set up when a Redis address is configured.
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.WithField("path", cfg.Database.Path).Info("Using database")
	store, err := database.NewDatabase(cfg.Database.Path, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := store.RunMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	a := &App{
		Config: cfg,
		Store:  store,
		Nearby: store,
		logger: logger,
	}

	syncOpts := []proximity.Option{proximity.WithPurgeInactive(cfg.Sync.PurgeInactiveFacts)}
	if cfg.Cache.RedisAddr != "" {
		client, err := cache.NewRedisClient(cfg.Cache)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.redis = client
		a.Cache = cache.NewNearbyCache(client, cfg.Cache.TTL, logger)
		a.Nearby = cache.NewCachedNearby(store, a.Cache)
		syncOpts = append(syncOpts, proximity.WithInvalidator(a.Cache))
		logger.WithField("addr", cfg.Cache.RedisAddr).Info("Nearby query cache enabled")
	}

	a.Syncer = proximity.NewSynchronizer(store, logger, syncOpts...)
	a.Valuation = valuation.NewService(store, logger)
	a.Processor = processor.NewBatchProcessor(store, a.Syncer, a.Valuation, cfg.Sync, logger)

	return a, nil
}

// Close releases the Redis client and the database.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
