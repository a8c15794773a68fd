// Package valuation estimates the fair value of listings.
//
// Two models coexist. The area-baseline model prices a listing against the
// pre-aggregated statistic of its (city, area, category) bucket and is the
// only one persisted onto listings. The project floor-adjusted model prices a
// unit against the other available units of its project and is computed on
// demand for the opportunity view.
package valuation

import (
	"math"

	"propmarket/server/internal/models"
)

// Model identifies a valuation strategy.
type Model string

const (
	ModelAreaBaseline Model = "area_baseline"
	ModelProjectFloor Model = "project_floor"
)

// Persisted reports whether estimates of this model may be written back onto
// the listing snapshot.
func (m Model) Persisted() bool {
	return m == ModelAreaBaseline
}

// Thresholds of the price-deviation classification, in percent.
const (
	HighYieldPct  = 6.0
	SuperDealPct  = -15.0
	GoodValuePct  = -5.0
	OverpricedPct = 5.0
)

// Unit is the priced input of an estimate.
type Unit struct {
	ListingID uint
	SizeSqm   float64
	SalePrice *float64
	RentPrice *float64
	Floor     *int
}

// UnitFromListing extracts the priced fields of a listing.
func UnitFromListing(l *models.Listing) Unit {
	return Unit{
		ListingID: l.ID,
		SizeSqm:   l.SizeSqm,
		SalePrice: l.SalePrice,
		RentPrice: l.RentPrice,
		Floor:     l.Floor,
	}
}

// Estimate is the output of a model. Fields the inputs cannot support are nil.
type Estimate struct {
	Model         Model                  `json:"model"`
	PricePerArea  *float64               `json:"price_per_area"`
	RentalYield   *float64               `json:"rental_yield"`
	FairValue     *float64               `json:"fair_value"`
	DeviationPct  *float64               `json:"deviation_pct"`
	Class         *models.ValuationClass `json:"class"`
	InstantEquity *float64               `json:"instant_equity,omitempty"`
}

// Estimator is a fair-value strategy.
type Estimator interface {
	Model() Model
	Estimate(u Unit) Estimate
}

// Classify applies the class rules in priority order. A yield above
// HighYieldPct wins over any deviation; otherwise a nil deviation has no class.
func Classify(yield, deviation *float64) *models.ValuationClass {
	var class models.ValuationClass
	switch {
	case yield != nil && *yield > HighYieldPct:
		class = models.ClassHighYield
	case deviation == nil:
		return nil
	case *deviation < SuperDealPct:
		class = models.ClassSuperDeal
	case *deviation < GoodValuePct:
		class = models.ClassGoodValue
	case *deviation > OverpricedPct:
		class = models.ClassOverpriced
	default:
		class = models.ClassFair
	}
	return &class
}

// pricePerArea returns round(price / size).
func pricePerArea(u Unit) *float64 {
	if u.SalePrice == nil || *u.SalePrice <= 0 || u.SizeSqm <= 0 {
		return nil
	}
	return float64Ptr(math.Round(*u.SalePrice / u.SizeSqm))
}

// rentalYield returns the gross yield in percent, rounded to 2 decimals.
func rentalYield(u Unit) *float64 {
	if u.SalePrice == nil || *u.SalePrice <= 0 || u.RentPrice == nil {
		return nil
	}
	return float64Ptr(round2(*u.RentPrice * 12 / *u.SalePrice * 100))
}

// deviation returns how far the asking price is from the fair value, in percent.
func deviation(price, fair *float64) *float64 {
	if price == nil || fair == nil || *fair == 0 {
		return nil
	}
	return float64Ptr(round2((*price - *fair) / *fair * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func float64Ptr(v float64) *float64 {
	return &v
}
