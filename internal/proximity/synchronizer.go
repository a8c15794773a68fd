// Package proximity maintains the listing/POI distance fact table and the
// nearest-of-category fields derived from it.
//
// SyncListing refreshes both the facts and the derived fields of one listing.
// SyncPOI only refreshes facts: listings whose nearest fields depend on the
// POI stay stale until they are synced again or repaired through
// RecomputeConvenienceFields.
package proximity

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"propmarket/server/internal/geodist"
	"propmarket/server/internal/models"
)

// Store is the persistence used by the synchronizer.
type Store interface {
	GetListing(ctx context.Context, id uint) (*models.Listing, error)
	GetPOI(ctx context.Context, id uint) (*models.PointOfInterest, error)
	ActivePOIs(ctx context.Context) ([]models.PointOfInterest, error)
	ListingsWithCoordinates(ctx context.Context) ([]models.Listing, error)
	SaveDistances(ctx context.Context, rows []models.ListingPOIDistance) error
	DeleteDistancesForPOI(ctx context.Context, poiID uint) (int64, error)
	FactsForListing(ctx context.Context, listingID uint) ([]models.NearbyPOI, error)
	UpdateNearestFields(ctx context.Context, listingID uint, fields models.NearestFields) error
}

// Invalidator is told when committed fact rows changed, e.g. to drop cached
// nearby query results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// SyncResult reports what a sync wrote.
type SyncResult struct {
	RowsWritten    int   `json:"rows_written"`
	RowsPurged     int64 `json:"rows_purged,omitempty"`
	ListingChanged bool  `json:"listing_changed"`
}

type Option func(*Synchronizer)

// WithInvalidator registers a hook called after fact rows are committed.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Synchronizer) {
		s.invalidator = inv
	}
}

// WithPurgeInactive makes SyncPOI delete the fact rows of inactive POIs
// instead of keeping them as history.
func WithPurgeInactive(enabled bool) Option {
	return func(s *Synchronizer) {
		s.purgeInactive = enabled
	}
}

// Synchronizer computes listing/POI distances and materializes the nearest
// fields onto listings.
type Synchronizer struct {
	store         Store
	logger        *logrus.Logger
	invalidator   Invalidator
	purgeInactive bool
}

// NewSynchronizer creates a new synchronizer
func NewSynchronizer(store Store, logger *logrus.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Synchronizer{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncListing computes the distance from a listing to every active POI,
// upserts the fact rows in one transaction and, once they are committed,
// re-derives the listing's nearest fields from all of its stored rows.
func (s *Synchronizer) SyncListing(ctx context.Context, listingID uint) (SyncResult, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return SyncResult{}, err
	}

	log := s.logger.WithField("listing_id", listingID)
	if !listing.HasCoordinates() {
		log.Debug("Listing has no coordinates, skipping proximity sync")
		return SyncResult{}, nil
	}

	pois, err := s.store.ActivePOIs(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if len(pois) == 0 {
		log.Debug("No active POIs, skipping proximity sync")
		return SyncResult{}, nil
	}

	origin := listing.Point()
	rows := make([]models.ListingPOIDistance, 0, len(pois))
	for i := range pois {
		rows = append(rows, newDistanceRow(listing.ID, origin, &pois[i]))
	}

	if err := s.store.SaveDistances(ctx, rows); err != nil {
		return SyncResult{}, fmt.Errorf("failed to save distances for listing %d: %w", listingID, err)
	}
	s.invalidate(ctx)

	changed, err := s.applyNearest(ctx, listing)
	if err != nil {
		return SyncResult{RowsWritten: len(rows)}, err
	}

	log.WithFields(logrus.Fields{
		"rows_written":    len(rows),
		"listing_changed": changed,
	}).Debug("Listing proximity synced")

	return SyncResult{RowsWritten: len(rows), ListingChanged: changed}, nil
}

// SyncPOI upserts the fact rows between an active POI and every listing with
// coordinates. Listing nearest fields are not touched.
func (s *Synchronizer) SyncPOI(ctx context.Context, poiID uint) (SyncResult, error) {
	poi, err := s.store.GetPOI(ctx, poiID)
	if err != nil {
		return SyncResult{}, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"poi_id":   poiID,
		"category": poi.Category,
	})

	if !poi.Active {
		if !s.purgeInactive {
			log.Debug("POI is inactive, keeping existing distance rows")
			return SyncResult{}, nil
		}
		purged, err := s.store.DeleteDistancesForPOI(ctx, poiID)
		if err != nil {
			return SyncResult{}, err
		}
		if purged > 0 {
			s.invalidate(ctx)
		}
		log.WithField("rows_purged", purged).Info("Purged distance rows of inactive POI")
		return SyncResult{RowsPurged: purged}, nil
	}

	listings, err := s.store.ListingsWithCoordinates(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	rows := make([]models.ListingPOIDistance, 0, len(listings))
	for i := range listings {
		if !listings[i].HasCoordinates() {
			continue
		}
		rows = append(rows, newDistanceRow(listings[i].ID, listings[i].Point(), poi))
	}
	if len(rows) == 0 {
		return SyncResult{}, nil
	}

	if err := s.store.SaveDistances(ctx, rows); err != nil {
		return SyncResult{}, fmt.Errorf("failed to save distances for poi %d: %w", poiID, err)
	}
	s.invalidate(ctx)

	log.WithField("rows_written", len(rows)).Debug("POI proximity synced")
	return SyncResult{RowsWritten: len(rows)}, nil
}

// RecomputeConvenienceFields re-derives a listing's nearest fields from its
// stored fact rows without computing any distance. It reports whether the
// listing changed.
func (s *Synchronizer) RecomputeConvenienceFields(ctx context.Context, listingID uint) (bool, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return false, err
	}
	return s.applyNearest(ctx, listing)
}

func (s *Synchronizer) applyNearest(ctx context.Context, listing *models.Listing) (bool, error) {
	facts, err := s.store.FactsForListing(ctx, listing.ID)
	if err != nil {
		return false, err
	}

	derived := DeriveNearest(facts)
	if derived.Equal(listing.Nearest) {
		return false, nil
	}

	if err := s.store.UpdateNearestFields(ctx, listing.ID, derived); err != nil {
		return false, err
	}
	listing.Nearest = derived
	return true, nil
}

func (s *Synchronizer) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate nearby cache")
	}
}

func newDistanceRow(listingID uint, origin orb.Point, poi *models.PointOfInterest) models.ListingPOIDistance {
	est := geodist.Measure(origin, poi.Point())
	return models.ListingPOIDistance{
		ListingID:      listingID,
		POIID:          poi.ID,
		Category:       poi.Category,
		DistanceKm:     est.DistanceKm,
		WalkingMinutes: est.WalkingMinutes,
		DrivingMinutes: est.DrivingMinutes,
	}
}
