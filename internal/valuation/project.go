package valuation

import (
	"math"

	"propmarket/server/internal/models"
)

const (
	// FloorStepPct is the fair price-per-area change per floor away from the
	// project's reference floor.
	FloorStepPct = 0.5

	defaultReferenceFloor = 1
)

// ProjectFloor prices units against the mean price-per-area of their project,
// adjusted for the floor they are on.
type ProjectFloor struct {
	baseline       *float64
	referenceFloor int
}

// NewProjectFloor builds the project model from the project's available
// units. Units without a usable price or size do not count toward the
// baseline. The reference floor is the rounded mean floor of the units that
// have one.
func NewProjectFloor(units []models.Listing) *ProjectFloor {
	var ppaSum float64
	var ppaCount int
	var floorSum, floorCount int

	for i := range units {
		u := &units[i]
		if u.Status != models.ListingAvailable {
			continue
		}
		if u.SalePrice != nil && *u.SalePrice > 0 && u.SizeSqm > 0 {
			ppaSum += *u.SalePrice / u.SizeSqm
			ppaCount++
		}
		if u.Floor != nil {
			floorSum += *u.Floor
			floorCount++
		}
	}

	p := &ProjectFloor{referenceFloor: defaultReferenceFloor}
	if ppaCount > 0 {
		p.baseline = float64Ptr(ppaSum / float64(ppaCount))
	}
	if floorCount > 0 {
		p.referenceFloor = int(math.Round(float64(floorSum) / float64(floorCount)))
	}
	return p
}

func (p *ProjectFloor) Model() Model {
	return ModelProjectFloor
}

// Baseline returns the project's mean price-per-area, or nil.
func (p *ProjectFloor) Baseline() *float64 {
	return p.baseline
}

func (p *ProjectFloor) ReferenceFloor() int {
	return p.referenceFloor
}

// AdjustedPricePerArea returns the baseline moved by FloorStepPct for every
// floor between floor and the reference floor. A unit without a floor gets
// the baseline unchanged.
func (p *ProjectFloor) AdjustedPricePerArea(floor *int) *float64 {
	if p.baseline == nil {
		return nil
	}
	if floor == nil {
		return float64Ptr(*p.baseline)
	}
	factor := 1 + FloorStepPct/100*float64(*floor-p.referenceFloor)
	return float64Ptr(*p.baseline * factor)
}

func (p *ProjectFloor) Estimate(u Unit) Estimate {
	est := Estimate{
		Model:        ModelProjectFloor,
		PricePerArea: pricePerArea(u),
		RentalYield:  rentalYield(u),
	}
	if ppa := p.AdjustedPricePerArea(u.Floor); ppa != nil && u.SizeSqm > 0 {
		est.FairValue = float64Ptr(round2(*ppa * u.SizeSqm))
	}
	est.DeviationPct = deviation(u.SalePrice, est.FairValue)
	est.Class = Classify(est.RentalYield, est.DeviationPct)
	if u.SalePrice != nil && est.FairValue != nil {
		est.InstantEquity = float64Ptr(round2(*u.SalePrice - *est.FairValue))
	}
	return est
}
