package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"propmarket/server/internal/models"
)

// ErrNotFound is returned when a listing or POI id does not exist.
var ErrNotFound = errors.New("record not found")

const (
	upsertBatchSize    = 200
	defaultNearbyLimit = 20
	maxNearbyLimit     = 200
)

// Columns refreshed when a (listing, poi) fact row already exists.
var distanceUpdateColumns = []string{"category", "distance_km", "walking_minutes", "driving_minutes"}

type Database struct {
	db *gorm.DB
}

// NewDatabase opens the SQLite database at dbPath. SQLite serializes writers,
// so maxOpenConns is normally 1.
func NewDatabase(dbPath string, maxOpenConns int) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}

	return &Database{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Database {
	return &Database{db: db}
}

// NewTestDB opens a private in-memory database for tests.
func NewTestDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps the in-memory database alive and serializes
	// concurrent writers the same way the file database does.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsConstraintError reports whether err is an SQLite constraint violation.
// Such failures are deterministic and not worth retrying.
func IsConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// GetListing returns the listing with the given id or ErrNotFound.
func (d *Database) GetListing(ctx context.Context, id uint) (*models.Listing, error) {
	var listing models.Listing
	err := d.db.WithContext(ctx).First(&listing, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %d: %w", id, err)
	}
	return &listing, nil
}

// GetPOI returns the POI with the given id or ErrNotFound.
func (d *Database) GetPOI(ctx context.Context, id uint) (*models.PointOfInterest, error) {
	var poi models.PointOfInterest
	err := d.db.WithContext(ctx).First(&poi, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("poi %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load poi %d: %w", id, err)
	}
	return &poi, nil
}

// ActivePOIs returns every active POI ordered by id.
func (d *Database) ActivePOIs(ctx context.Context) ([]models.PointOfInterest, error) {
	var pois []models.PointOfInterest
	if err := d.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&pois).Error; err != nil {
		return nil, fmt.Errorf("failed to query active pois: %w", err)
	}
	return pois, nil
}

// ListingsWithCoordinates returns the id and coordinates of every listing that
// has both latitude and longitude set.
func (d *Database) ListingsWithCoordinates(ctx context.Context) ([]models.Listing, error) {
	var listings []models.Listing
	err := d.db.WithContext(ctx).
		Select("id", "latitude", "longitude").
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("id").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query listings with coordinates: %w", err)
	}
	return listings, nil
}

// ListingIDsWithCoordinates returns the ids of every listing with coordinates.
func (d *Database) ListingIDsWithCoordinates(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query listing ids: %w", err)
	}
	return ids, nil
}

// UpsertDistances writes fact rows inside tx, updating rows that already exist
// for the same (listing, poi) pair.
func UpsertDistances(tx *gorm.DB, rows []models.ListingPOIDistance) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}, {Name: "poi_id"}},
		DoUpdates: clause.AssignmentColumns(distanceUpdateColumns),
	}).CreateInBatches(rows, upsertBatchSize).Error
}

// SaveDistances upserts rows in a single transaction. Either every row is
// written or none is.
func (d *Database) SaveDistances(ctx context.Context, rows []models.ListingPOIDistance) error {
	if len(rows) == 0 {
		return nil
	}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := UpsertDistances(tx, rows); err != nil {
			return fmt.Errorf("failed to upsert distance rows: %w", err)
		}
		return nil
	})
	return err
}

// DeleteDistancesForPOI removes every fact row that references poiID.
func (d *Database) DeleteDistancesForPOI(ctx context.Context, poiID uint) (int64, error) {
	result := d.db.WithContext(ctx).Where("poi_id = ?", poiID).Delete(&models.ListingPOIDistance{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete distance rows for poi %d: %w", poiID, result.Error)
	}
	return result.RowsAffected, nil
}

// FactsForListing returns every stored fact row of a listing joined with the
// POI name, ordered by category, distance and POI id.
func (d *Database) FactsForListing(ctx context.Context, listingID uint) ([]models.NearbyPOI, error) {
	var rows []models.NearbyPOI
	err := d.nearbyBase(ctx, listingID).
		Order("d.category ASC, d.distance_km ASC, p.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query facts for listing %d: %w", listingID, err)
	}
	return rows, nil
}

// NearbyPOIs answers the nearby query for a listing: its fact rows filtered by
// distance, category and tier, nearest first, capped at the query limit.
func (d *Database) NearbyPOIs(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	if limit > maxNearbyLimit {
		limit = maxNearbyLimit
	}

	query := d.nearbyBase(ctx, listingID)
	if q.MaxDistanceKm > 0 {
		query = query.Where("d.distance_km <= ?", q.MaxDistanceKm)
	}
	if len(q.Categories) > 0 {
		categories := make([]string, len(q.Categories))
		for i, c := range q.Categories {
			categories[i] = string(c)
		}
		query = query.Where("d.category IN ?", categories)
	}
	if q.Tier != "" {
		query = query.Where("p.tier = ?", string(q.Tier))
	}

	var rows []models.NearbyPOI
	err := query.Order("d.distance_km ASC, p.id ASC").Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby pois for listing %d: %w", listingID, err)
	}
	return rows, nil
}

func (d *Database) nearbyBase(ctx context.Context, listingID uint) *gorm.DB {
	return d.db.WithContext(ctx).
		Table("listing_poi_distances AS d").
		Select(`p.id AS poi_id, p.name, p.name_local, d.category, p.tier, p.latitude, p.longitude,
			d.distance_km, d.walking_minutes, d.driving_minutes`).
		Joins("JOIN points_of_interest AS p ON p.id = d.poi_id").
		Where("d.listing_id = ?", listingID)
}

// UpdateNearestFields writes the convenience fields of a listing. Only the
// nearest_* columns are touched.
func (d *Database) UpdateNearestFields(ctx context.Context, listingID uint, fields models.NearestFields) error {
	result := d.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Updates(fields.Columns())
	if result.Error != nil {
		return fmt.Errorf("failed to update nearest fields of listing %d: %w", listingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("listing %d: %w", listingID, ErrNotFound)
	}
	return nil
}

// UpdateValuationSnapshot writes the valuation_* columns of a listing.
func (d *Database) UpdateValuationSnapshot(ctx context.Context, listingID uint, snapshot models.ValuationSnapshot) error {
	result := d.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Updates(snapshot.Columns())
	if result.Error != nil {
		return fmt.Errorf("failed to update valuation of listing %d: %w", listingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("listing %d: %w", listingID, ErrNotFound)
	}
	return nil
}

// FindAreaStat returns the area statistic for the bucket, or nil when the
// bucket has no row.
func (d *Database) FindAreaStat(ctx context.Context, city, area, category string) (*models.AreaStat, error) {
	var stat models.AreaStat
	err := d.db.WithContext(ctx).
		Where("city = ? AND area = ? AND category = ?", city, area, category).
		First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query area stat: %w", err)
	}
	return &stat, nil
}

// StaleListings returns listings with coordinates whose valuation snapshot is
// missing or was computed before the given time, oldest first.
func (d *Database) StaleListings(ctx context.Context, before time.Time, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := d.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("valuation_computed_at IS NULL OR valuation_computed_at < ?", before).
		Order("valuation_computed_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to query stale listings: %w", err)
	}
	return listings, nil
}

// ProjectUnits returns the available units of a project.
func (d *Database) ProjectUnits(ctx context.Context, project string) ([]models.Listing, error) {
	var listings []models.Listing
	err := d.db.WithContext(ctx).
		Where("project = ? AND status = ?", project, models.ListingAvailable).
		Order("id").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query units of project %q: %w", project, err)
	}
	return listings, nil
}
