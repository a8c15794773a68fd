package valuation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"propmarket/server/internal/models"
	"propmarket/server/internal/scoring"
)

// Store is the persistence used by the valuation service.
type Store interface {
	GetListing(ctx context.Context, id uint) (*models.Listing, error)
	FindAreaStat(ctx context.Context, city, area, category string) (*models.AreaStat, error)
	UpdateValuationSnapshot(ctx context.Context, listingID uint, snapshot models.ValuationSnapshot) error
	ProjectUnits(ctx context.Context, project string) ([]models.Listing, error)
}

// Opportunity is one unit of the project opportunity view.
type Opportunity struct {
	ListingID uint     `json:"listing_id"`
	Title     string   `json:"title"`
	Floor     *int     `json:"floor,omitempty"`
	SizeSqm   float64  `json:"size_sqm"`
	SalePrice *float64 `json:"sale_price"`
	Estimate  Estimate `json:"estimate"`
}

// ProjectView is the on-demand floor-adjusted valuation of a project.
type ProjectView struct {
	Project        string        `json:"project"`
	Baseline       *float64      `json:"baseline_price_per_area"`
	ReferenceFloor int           `json:"reference_floor"`
	Units          []Opportunity `json:"units"`
}

type ServiceOption func(*Service)

// WithClock replaces the clock used for listing age and snapshot timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// Service recomputes valuation snapshots and builds the project view.
type Service struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a new valuation service
func NewService(store Store, logger *logrus.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecomputeListing runs the area-baseline model and the lead scorer for one
// listing and writes the resulting snapshot. Listings without coordinates are
// skipped and return a nil snapshot.
func (s *Service) RecomputeListing(ctx context.Context, listingID uint) (*models.ValuationSnapshot, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithField("listing_id", listingID)
	if !listing.HasCoordinates() {
		log.Debug("Listing has no coordinates, skipping valuation")
		return nil, nil
	}

	stat, err := s.store.FindAreaStat(ctx, listing.City, listing.Area, listing.Category)
	if err != nil {
		return nil, err
	}

	var estimator Estimator = NewAreaBaseline(stat)
	if !estimator.Model().Persisted() {
		return nil, fmt.Errorf("model %s is not persisted", estimator.Model())
	}
	est := estimator.Estimate(UnitFromListing(listing))

	now := s.now().UTC()
	score := scoring.LeadScore(scoring.Input{
		ViewCount:    listing.ViewCount,
		EnquiryCount: listing.EnquiryCount,
		AgeDays:      ageDays(listing.CreatedAt, now),
		Class:        est.Class,
	})

	snapshot := est.Snapshot()
	snapshot.LeadScore = &score
	snapshot.ComputedAt = &now

	if err := s.store.UpdateValuationSnapshot(ctx, listingID, snapshot); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"lead_score": score}
	if snapshot.Class != nil {
		fields["class"] = *snapshot.Class
	}
	if stat == nil {
		fields["area_stat"] = "missing"
	}
	log.WithFields(fields).Debug("Valuation snapshot updated")

	return &snapshot, nil
}

// ProjectOpportunities prices every available unit of a project with the
// floor-adjusted model. Units are ordered by instant equity, lowest first;
// units without an estimate come last. Nothing is written back.
func (s *Service) ProjectOpportunities(ctx context.Context, project string) (*ProjectView, error) {
	units, err := s.store.ProjectUnits(ctx, project)
	if err != nil {
		return nil, err
	}

	model := NewProjectFloor(units)
	view := &ProjectView{
		Project:        project,
		Baseline:       model.Baseline(),
		ReferenceFloor: model.ReferenceFloor(),
		Units:          make([]Opportunity, 0, len(units)),
	}
	for i := range units {
		u := &units[i]
		view.Units = append(view.Units, Opportunity{
			ListingID: u.ID,
			Title:     u.Title,
			Floor:     u.Floor,
			SizeSqm:   u.SizeSqm,
			SalePrice: u.SalePrice,
			Estimate:  model.Estimate(UnitFromListing(u)),
		})
	}

	sort.SliceStable(view.Units, func(i, j int) bool {
		a, b := view.Units[i].Estimate.InstantEquity, view.Units[j].Estimate.InstantEquity
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	s.logger.WithFields(logrus.Fields{
		"project": project,
		"units":   len(view.Units),
	}).Debug("Project opportunities computed")

	return view, nil
}

func ageDays(createdAt, now time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}
