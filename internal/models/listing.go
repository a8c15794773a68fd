package models

import (
	"time"

	"github.com/paulmach/orb"
)

type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingReserved  ListingStatus = "reserved"
	ListingSold      ListingStatus = "sold"
)

// Listing is a marketplace listing together with the proximity and valuation
// fields materialized onto it by the sync engine.
type Listing struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Title        string        `json:"title"`
	Category     string        `gorm:"index:idx_listings_market,priority:3" json:"category"`
	City         string        `gorm:"index:idx_listings_market,priority:1" json:"city"`
	Area         string        `gorm:"index:idx_listings_market,priority:2" json:"area"`
	SubArea      string        `json:"sub_area"`
	Status       ListingStatus `gorm:"not null" json:"status"`
	Project      *string       `gorm:"index" json:"project,omitempty"`
	Floor        *int          `json:"floor,omitempty"`
	SizeSqm      float64       `json:"size_sqm"`
	SalePrice    *float64      `json:"sale_price"`
	RentPrice    *float64      `json:"rent_price"`
	Bedrooms     int           `json:"bedrooms"`
	ViewCount    int           `json:"view_count"`
	EnquiryCount int           `json:"enquiry_count"`
	Latitude     *float64      `json:"latitude"`
	Longitude    *float64      `json:"longitude"`

	Nearest   NearestFields     `gorm:"embedded;embeddedPrefix:nearest_" json:"nearest"`
	Valuation ValuationSnapshot `gorm:"embedded;embeddedPrefix:valuation_" json:"valuation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCoordinates reports whether the listing can take part in proximity work.
func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Point returns the listing location in orb's (lng, lat) order.
// Callers must check HasCoordinates first.
func (l *Listing) Point() orb.Point {
	return orb.Point{*l.Longitude, *l.Latitude}
}

// NearestFields holds the per-category "nearest POI" convenience fields.
// The rail pair is shared by the BTS and MRT station categories.
type NearestFields struct {
	BeachKm         *float64 `json:"beach_km"`
	BeachName       *string  `json:"beach_name"`
	MallKm          *float64 `json:"mall_km"`
	MallName        *string  `json:"mall_name"`
	HospitalKm      *float64 `json:"hospital_km"`
	HospitalName    *string  `json:"hospital_name"`
	IntlSchoolKm    *float64 `json:"intl_school_km"`
	IntlSchoolName  *string  `json:"intl_school_name"`
	RailStationKm   *float64 `json:"rail_station_km"`
	RailStationName *string  `json:"rail_station_name"`
}

// Columns returns the column/value map used to write the fields. Nil values
// are kept so that absent categories are cleared to NULL.
func (n NearestFields) Columns() map[string]interface{} {
	return map[string]interface{}{
		"nearest_beach_km":          n.BeachKm,
		"nearest_beach_name":        n.BeachName,
		"nearest_mall_km":           n.MallKm,
		"nearest_mall_name":         n.MallName,
		"nearest_hospital_km":       n.HospitalKm,
		"nearest_hospital_name":     n.HospitalName,
		"nearest_intl_school_km":    n.IntlSchoolKm,
		"nearest_intl_school_name":  n.IntlSchoolName,
		"nearest_rail_station_km":   n.RailStationKm,
		"nearest_rail_station_name": n.RailStationName,
	}
}

// Equal compares two sets of nearest fields by value.
func (n NearestFields) Equal(o NearestFields) bool {
	return floatPtrEqual(n.BeachKm, o.BeachKm) && stringPtrEqual(n.BeachName, o.BeachName) &&
		floatPtrEqual(n.MallKm, o.MallKm) && stringPtrEqual(n.MallName, o.MallName) &&
		floatPtrEqual(n.HospitalKm, o.HospitalKm) && stringPtrEqual(n.HospitalName, o.HospitalName) &&
		floatPtrEqual(n.IntlSchoolKm, o.IntlSchoolKm) && stringPtrEqual(n.IntlSchoolName, o.IntlSchoolName) &&
		floatPtrEqual(n.RailStationKm, o.RailStationKm) && stringPtrEqual(n.RailStationName, o.RailStationName)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
