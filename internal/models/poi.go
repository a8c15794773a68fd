package models

import (
	"time"

	"github.com/paulmach/orb"
)

type POICategory string

const (
	CategoryBeach               POICategory = "beach"
	CategoryHospital            POICategory = "hospital"
	CategoryShoppingMall        POICategory = "shopping_mall"
	CategoryInternationalSchool POICategory = "international_school"
	CategoryRailBTS             POICategory = "rail_bts"
	CategoryRailMRT             POICategory = "rail_mrt"
	CategoryAirport             POICategory = "airport"
)

// Valid reports whether c is a known category.
func (c POICategory) Valid() bool {
	switch c {
	case CategoryBeach, CategoryHospital, CategoryShoppingMall, CategoryInternationalSchool,
		CategoryRailBTS, CategoryRailMRT, CategoryAirport:
		return true
	}
	return false
}

type POITier string

const (
	TierPrimary   POITier = "primary"
	TierSecondary POITier = "secondary"
)

func (t POITier) Valid() bool {
	return t == TierPrimary || t == TierSecondary
}

// PointOfInterest is a fixed amenity used as a proximity reference.
// Inactive POIs are skipped by new computations but their existing
// distance rows are left in place.
type PointOfInterest struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	NameLocal *string     `json:"name_local,omitempty"`
	Category  POICategory `gorm:"not null;index" json:"category"`
	Tier      POITier     `gorm:"not null" json:"tier"`
	Latitude  float64     `gorm:"not null" json:"latitude"`
	Longitude float64     `gorm:"not null" json:"longitude"`
	City      string      `json:"city"`
	Area      string      `json:"area"`
	Active    bool        `gorm:"not null;index" json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (PointOfInterest) TableName() string {
	return "points_of_interest"
}

// Point returns the POI location in orb's (lng, lat) order.
func (p *PointOfInterest) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
