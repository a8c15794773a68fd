package valuation

import "propmarket/server/internal/models"

// AreaBaseline prices units against the average price-per-area of their
// (city, area, category) bucket.
type AreaBaseline struct {
	avgPricePerArea *float64
}

// NewAreaBaseline creates the area model from the bucket statistic. A nil
// stat leaves fair value and everything derived from it undefined.
func NewAreaBaseline(stat *models.AreaStat) *AreaBaseline {
	a := &AreaBaseline{}
	if stat != nil {
		a.avgPricePerArea = float64Ptr(stat.AvgPricePerArea)
	}
	return a
}

func (a *AreaBaseline) Model() Model {
	return ModelAreaBaseline
}

func (a *AreaBaseline) Estimate(u Unit) Estimate {
	est := Estimate{
		Model:        ModelAreaBaseline,
		PricePerArea: pricePerArea(u),
		RentalYield:  rentalYield(u),
	}
	if a.avgPricePerArea != nil && u.SizeSqm > 0 {
		est.FairValue = float64Ptr(*a.avgPricePerArea * u.SizeSqm)
	}
	est.DeviationPct = deviation(u.SalePrice, est.FairValue)
	est.Class = Classify(est.RentalYield, est.DeviationPct)
	return est
}

// Snapshot converts an area estimate into the persisted listing fields. The
// lead score and timestamp are filled in by the caller.
func (e Estimate) Snapshot() models.ValuationSnapshot {
	return models.ValuationSnapshot{
		PricePerArea: e.PricePerArea,
		RentalYield:  e.RentalYield,
		FairValue:    e.FairValue,
		DeviationPct: e.DeviationPct,
		Class:        e.Class,
	}
}
