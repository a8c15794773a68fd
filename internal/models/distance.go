package models

import "time"

// ListingPOIDistance is the fact row linking a listing to a POI. The
// (listing_id, poi_id) pair is unique; rows are only ever upserted by the
// proximity synchronizer. Rows carry no UpdatedAt: re-running a sync over
// unchanged inputs must leave them identical.
type ListingPOIDistance struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	ListingID      uint        `gorm:"not null;uniqueIndex:uq_listing_poi,priority:1" json:"listing_id"`
	POIID          uint        `gorm:"column:poi_id;not null;uniqueIndex:uq_listing_poi,priority:2;index" json:"poi_id"`
	Category       POICategory `gorm:"not null;index" json:"category"`
	DistanceKm     float64     `gorm:"not null" json:"distance_km"`
	WalkingMinutes int         `gorm:"not null" json:"walking_minutes"`
	DrivingMinutes int         `gorm:"not null" json:"driving_minutes"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NearbyPOI is one row of the nearby query: a fact row joined with its POI.
type NearbyPOI struct {
	POIID          uint        `gorm:"column:poi_id" json:"poi_id"`
	Name           string      `json:"name"`
	NameLocal      *string     `json:"name_local,omitempty"`
	Category       POICategory `json:"category"`
	Tier           POITier     `json:"tier"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	DistanceKm     float64     `json:"distance_km"`
	WalkingMinutes int         `json:"walking_minutes"`
	DrivingMinutes int         `json:"driving_minutes"`
}

// NearbyQuery filters the nearby query. Zero values mean "no filter"
// except Limit, which the store replaces with a default.
type NearbyQuery struct {
	MaxDistanceKm float64
	Categories    []POICategory
	Tier          POITier
	Limit         int
}
