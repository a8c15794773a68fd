package models

import "time"

// ValuationClass is the price-deviation classification of a listing.
type ValuationClass string

const (
	ClassHighYield  ValuationClass = "HIGH_YIELD"
	ClassSuperDeal  ValuationClass = "SUPER_DEAL"
	ClassGoodValue  ValuationClass = "GOOD_VALUE"
	ClassOverpriced ValuationClass = "OVERPRICED"
	ClassFair       ValuationClass = "FAIR"
)

// ValuationSnapshot is the set of pricing and lead-quality fields written onto
// a listing. It is only as fresh as ComputedAt.
type ValuationSnapshot struct {
	PricePerArea *float64        `json:"price_per_area"`
	RentalYield  *float64        `json:"rental_yield"`
	FairValue    *float64        `json:"fair_value"`
	DeviationPct *float64        `json:"deviation_pct"`
	Class        *ValuationClass `json:"class"`
	LeadScore    *int            `json:"lead_score"`
	ComputedAt   *time.Time      `gorm:"index" json:"computed_at"`
}

// Columns returns the column/value map used to persist the snapshot.
func (v ValuationSnapshot) Columns() map[string]interface{} {
	return map[string]interface{}{
		"valuation_price_per_area": v.PricePerArea,
		"valuation_rental_yield":   v.RentalYield,
		"valuation_fair_value":     v.FairValue,
		"valuation_deviation_pct":  v.DeviationPct,
		"valuation_class":          v.Class,
		"valuation_lead_score":     v.LeadScore,
		"valuation_computed_at":    v.ComputedAt,
	}
}
