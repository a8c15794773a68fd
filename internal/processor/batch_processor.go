package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"propmarket/server/config"
	"propmarket/server/internal/database"
	"propmarket/server/internal/models"
	"propmarket/server/internal/proximity"
	"propmarket/server/internal/queue"
)

// Syncer maintains the proximity facts and convenience fields.
type Syncer interface {
	SyncListing(ctx context.Context, listingID uint) (proximity.SyncResult, error)
	SyncPOI(ctx context.Context, poiID uint) (proximity.SyncResult, error)
	RecomputeConvenienceFields(ctx context.Context, listingID uint) (bool, error)
}

// Valuator recomputes the valuation snapshot of a listing.
type Valuator interface {
	RecomputeListing(ctx context.Context, listingID uint) (*models.ValuationSnapshot, error)
}

// ListingSource selects the listings a batch works on.
type ListingSource interface {
	ListingIDsWithCoordinates(ctx context.Context) ([]uint, error)
	StaleListings(ctx context.Context, before time.Time, limit int) ([]models.Listing, error)
}

// BatchResult summarizes one batch run. Processed counts the listings handled
// without error; every failure is recorded in Errors as "listing <id>: <err>".
type BatchResult struct {
	RunID     string   `json:"run_id"`
	Processed int      `json:"processed"`
	Changed   int      `json:"changed"`
	Errors    []string `json:"errors"`
}

func newBatchResult() BatchResult {
	return BatchResult{RunID: uuid.NewString(), Errors: []string{}}
}

func (r *BatchResult) recordError(listingID uint, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("listing %d: %v", listingID, err))
}

type Option func(*BatchProcessor)

// WithClock replaces the clock used to compute the staleness cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *BatchProcessor) {
		p.now = now
	}
}

// BatchProcessor drives the synchronizer and the valuation service over the
// listing set and executes queued trigger tasks.
type BatchProcessor struct {
	source   ListingSource
	syncer   Syncer
	valuator Valuator
	config   config.SyncConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(source ListingSource, syncer Syncer, valuator Valuator, cfg config.SyncConfig, logger *logrus.Logger, opts ...Option) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	p := &BatchProcessor{
		source:   source,
		syncer:   syncer,
		valuator: valuator,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunProximityBatch syncs every listing with coordinates. Listings are
// processed in chunks of ChunkSize: concurrently within a chunk, one chunk
// after the other. A failing listing is recorded and does not stop the batch.
// Cancelling ctx stops the batch between chunks.
func (p *BatchProcessor) RunProximityBatch(ctx context.Context) (BatchResult, error) {
	result := newBatchResult()
	log := p.logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"batch":  "proximity",
	})

	ids, err := p.source.ListingIDsWithCoordinates(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list listings: %w", err)
	}

	started := time.Now()
	log.WithFields(logrus.Fields{
		"listings":   len(ids),
		"chunk_size": p.config.ChunkSize,
	}).Info("Starting proximity batch")

	err = p.forEachChunk(ctx, ids, &result, func(ctx context.Context, id uint) (bool, error) {
		res, err := p.syncer.SyncListing(ctx, id)
		return res.ListingChanged, err
	})

	log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"changed":   result.Changed,
		"failed":    len(result.Errors),
		"duration":  time.Since(started).String(),
	}).Info("Proximity batch finished")

	return result, err
}

// RepairConvenienceFields re-derives the convenience fields of every listing
// with coordinates from its stored fact rows. It closes the staleness left by
// SyncPOI without computing any distance.
func (p *BatchProcessor) RepairConvenienceFields(ctx context.Context) (BatchResult, error) {
	result := newBatchResult()
	log := p.logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"batch":  "repair",
	})

	ids, err := p.source.ListingIDsWithCoordinates(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list listings: %w", err)
	}

	log.WithField("listings", len(ids)).Info("Starting convenience field repair")

	err = p.forEachChunk(ctx, ids, &result, p.syncer.RecomputeConvenienceFields)

	log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"changed":   result.Changed,
		"failed":    len(result.Errors),
	}).Info("Convenience field repair finished")

	return result, err
}

// forEachChunk runs fn for every id, chunk by chunk, and collects the outcome
// into result.
func (p *BatchProcessor) forEachChunk(ctx context.Context, ids []uint, result *BatchResult, fn func(context.Context, uint) (bool, error)) error {
	var mu sync.Mutex

	for start := 0; start < len(ids); start += p.config.ChunkSize {
		if err := ctx.Err(); err != nil {
			p.logger.WithField("remaining", len(ids)-start).Warn("Batch interrupted between chunks")
			return fmt.Errorf("batch interrupted: %w", err)
		}

		end := start + p.config.ChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		var g errgroup.Group
		g.SetLimit(len(chunk))
		for _, id := range chunk {
			id := id
			g.Go(func() error {
				changed, err := p.retry(ctx, id, func() (bool, error) {
					return fn(ctx, id)
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					p.logger.WithError(err).WithField("listing_id", id).Warn("Listing failed in batch")
					result.recordError(id, err)
					return nil
				}
				result.Processed++
				if changed {
					result.Changed++
				}
				return nil
			})
		}
		// Items never return an error; failures are collected in result.
		_ = g.Wait()

		p.logger.WithFields(logrus.Fields{
			"chunk_start": start,
			"chunk_size":  len(chunk),
		}).Debug("Chunk finished")
	}

	return nil
}

// RunIntelligenceBatch recomputes, one listing at a time, the valuation
// snapshots that are missing or older than StaleAfter, oldest first. A
// non-positive limit falls back to the configured IntelligenceLimit. Failing
// listings are logged and skipped; the number of updated listings is returned.
func (p *BatchProcessor) RunIntelligenceBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = p.config.IntelligenceLimit
	}

	runID := uuid.NewString()
	log := p.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"batch":  "intelligence",
	})

	cutoff := p.now().UTC().Add(-p.config.StaleAfter)
	listings, err := p.source.StaleListings(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to select stale listings: %w", err)
	}

	log.WithFields(logrus.Fields{
		"selected": len(listings),
		"limit":    limit,
		"cutoff":   cutoff,
	}).Info("Starting intelligence batch")

	updated := 0
	for i := range listings {
		if err := ctx.Err(); err != nil {
			log.WithField("updated", updated).Warn("Intelligence batch interrupted")
			return updated, fmt.Errorf("batch interrupted: %w", err)
		}

		id := listings[i].ID
		_, err := p.retry(ctx, id, func() (bool, error) {
			snapshot, err := p.valuator.RecomputeListing(ctx, id)
			return snapshot != nil, err
		})
		if err != nil {
			log.WithError(err).WithField("listing_id", id).Warn("Failed to recompute valuation, skipping")
			continue
		}
		updated++
	}

	log.WithFields(logrus.Fields{
		"updated": updated,
		"failed":  len(listings) - updated,
	}).Info("Intelligence batch finished")

	return updated, nil
}

// HandleTask executes a queued trigger task.
func (p *BatchProcessor) HandleTask(ctx context.Context, task queue.Task) error {
	switch task.Kind {
	case queue.TaskSyncListing:
		_, err := p.retry(ctx, task.ID, func() (bool, error) {
			res, err := p.syncer.SyncListing(ctx, task.ID)
			return res.ListingChanged, err
		})
		return err
	case queue.TaskSyncPOI:
		_, err := p.retry(ctx, task.ID, func() (bool, error) {
			res, err := p.syncer.SyncPOI(ctx, task.ID)
			return res.RowsWritten > 0, err
		})
		return err
	case queue.TaskRecomputeValuation:
		_, err := p.retry(ctx, task.ID, func() (bool, error) {
			snapshot, err := p.valuator.RecomputeListing(ctx, task.ID)
			return snapshot != nil, err
		})
		return err
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// retry runs fn up to MaxRetries+1 times. Not-found and constraint errors are
// deterministic and returned immediately.
func (p *BatchProcessor) retry(ctx context.Context, id uint, fn func() (bool, error)) (bool, error) {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.WithField("id", id).Infof("Retrying, attempt %d of %d", attempt, p.config.MaxRetries)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}

		var changed bool
		changed, err = fn()
		if err == nil {
			return changed, nil
		}
		if !retryable(err) {
			return false, err
		}
		p.logger.WithError(err).WithField("id", id).Debug("Attempt failed")
	}

	return false, fmt.Errorf("failed after %d attempts: %w", p.config.MaxRetries+1, err)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		database.IsConstraintError(err):
		return false
	}
	return true
}
