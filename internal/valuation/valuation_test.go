package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmarket/server/internal/models"
)

func ptr[T any](v T) *T {
	return &v
}

func TestAreaBaseline_Estimate(t *testing.T) {
	stat := &models.AreaStat{City: "Pattaya", Area: "Jomtien", Category: "condo", AvgPricePerArea: 100000}

	tests := []struct {
		name              string
		stat              *models.AreaStat
		unit              Unit
		expectedPPA       *float64
		expectedYield     *float64
		expectedFair      *float64
		expectedDeviation *float64
		expectedClass     *models.ValuationClass
	}{
		{
			name:              "Super deal",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(4000000.0)},
			expectedPPA:       ptr(80000.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(-20.0),
			expectedClass:     ptr(models.ClassSuperDeal),
		},
		{
			name:              "High yield overrides overpriced",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(6000000.0), RentPrice: ptr(40000.0)},
			expectedPPA:       ptr(120000.0),
			expectedYield:     ptr(8.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(20.0),
			expectedClass:     ptr(models.ClassHighYield),
		},
		{
			name:              "Yield at threshold is not high yield",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(6000000.0), RentPrice: ptr(30000.0)},
			expectedPPA:       ptr(120000.0),
			expectedYield:     ptr(6.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(20.0),
			expectedClass:     ptr(models.ClassOverpriced),
		},
		{
			name:              "Good value",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(4600000.0)},
			expectedPPA:       ptr(92000.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(-8.0),
			expectedClass:     ptr(models.ClassGoodValue),
		},
		{
			name:              "Minus fifteen is good value",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(4250000.0)},
			expectedPPA:       ptr(85000.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(-15.0),
			expectedClass:     ptr(models.ClassGoodValue),
		},
		{
			name:              "Plus five is fair",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(5250000.0)},
			expectedPPA:       ptr(105000.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(5.0),
			expectedClass:     ptr(models.ClassFair),
		},
		{
			name:              "Overpriced",
			stat:              stat,
			unit:              Unit{SizeSqm: 50, SalePrice: ptr(5500000.0)},
			expectedPPA:       ptr(110000.0),
			expectedFair:      ptr(5000000.0),
			expectedDeviation: ptr(10.0),
			expectedClass:     ptr(models.ClassOverpriced),
		},
		{
			name:        "Missing area stat",
			unit:        Unit{SizeSqm: 50, SalePrice: ptr(4000000.0)},
			expectedPPA: ptr(80000.0),
		},
		{
			name:          "Missing area stat with high yield",
			unit:          Unit{SizeSqm: 50, SalePrice: ptr(4000000.0), RentPrice: ptr(30000.0)},
			expectedPPA:   ptr(80000.0),
			expectedYield: ptr(9.0),
			expectedClass: ptr(models.ClassHighYield),
		},
		{
			name: "Zero size",
			stat: stat,
			unit: Unit{SizeSqm: 0, SalePrice: ptr(4000000.0)},
		},
		{
			name: "Negative size",
			stat: stat,
			unit: Unit{SizeSqm: -10, SalePrice: ptr(4000000.0)},
		},
		{
			name:         "Missing price",
			stat:         stat,
			unit:         Unit{SizeSqm: 50, RentPrice: ptr(30000.0)},
			expectedFair: ptr(5000000.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := NewAreaBaseline(tt.stat).Estimate(tt.unit)
			assert.Equal(t, ModelAreaBaseline, est.Model)
			assert.Equal(t, tt.expectedPPA, est.PricePerArea)
			assert.Equal(t, tt.expectedYield, est.RentalYield)
			assert.Equal(t, tt.expectedFair, est.FairValue)
			assert.Equal(t, tt.expectedDeviation, est.DeviationPct)
			assert.Equal(t, tt.expectedClass, est.Class)
			assert.Nil(t, est.InstantEquity)
		})
	}
}

func TestClassify_NilDeviationWithoutYield(t *testing.T) {
	assert.Nil(t, Classify(nil, nil))
	assert.Nil(t, Classify(ptr(5.99), nil))
	assert.Equal(t, models.ClassHighYield, *Classify(ptr(6.01), nil))
	assert.Equal(t, models.ClassSuperDeal, *Classify(nil, ptr(-15.01)))
}

func TestModelPersisted(t *testing.T) {
	assert.True(t, NewAreaBaseline(nil).Model().Persisted())
	assert.False(t, NewProjectFloor(nil).Model().Persisted())
}

func projectUnit(id uint, floor *int, size float64, price *float64) models.Listing {
	return models.Listing{
		ID:        id,
		Status:    models.ListingAvailable,
		Floor:     floor,
		SizeSqm:   size,
		SalePrice: price,
	}
}

func TestProjectFloor_BaselineAndReferenceFloor(t *testing.T) {
	t.Run("Mean of priced available units", func(t *testing.T) {
		sold := projectUnit(4, ptr(30), 50, ptr(50000000.0))
		sold.Status = models.ListingSold

		model := NewProjectFloor([]models.Listing{
			projectUnit(1, ptr(2), 50, ptr(4000000.0)),
			projectUnit(2, ptr(4), 40, ptr(4800000.0)),
			projectUnit(3, ptr(7), 50, nil),
			sold,
		})
		require.NotNil(t, model.Baseline())
		assert.InDelta(t, 100000.0, *model.Baseline(), 1e-9)
		assert.Equal(t, 4, model.ReferenceFloor())
	})

	t.Run("No floors defaults reference to one", func(t *testing.T) {
		model := NewProjectFloor([]models.Listing{projectUnit(1, nil, 50, ptr(5000000.0))})
		assert.Equal(t, 1, model.ReferenceFloor())
	})

	t.Run("Empty project", func(t *testing.T) {
		model := NewProjectFloor(nil)
		assert.Nil(t, model.Baseline())
		est := model.Estimate(Unit{SizeSqm: 50, SalePrice: ptr(5000000.0)})
		assert.Nil(t, est.FairValue)
		assert.Nil(t, est.InstantEquity)
		assert.Nil(t, est.Class)
		assert.Equal(t, ptr(100000.0), est.PricePerArea)
	})
}

func TestProjectFloor_Estimate(t *testing.T) {
	model := NewProjectFloor([]models.Listing{
		projectUnit(1, ptr(2), 50, ptr(5000000.0)),
		projectUnit(2, ptr(4), 50, ptr(5000000.0)),
		projectUnit(3, ptr(6), 50, ptr(5000000.0)),
	})
	require.Equal(t, 4, model.ReferenceFloor())

	tests := []struct {
		name              string
		floor             *int
		expectedFair      float64
		expectedEquity    float64
		expectedDeviation float64
		expectedClass     models.ValuationClass
	}{
		{
			name:              "Higher floor carries a premium",
			floor:             ptr(6),
			expectedFair:      5050000,
			expectedEquity:    -50000,
			expectedDeviation: -0.99,
			expectedClass:     models.ClassFair,
		},
		{
			name:              "Reference floor",
			floor:             ptr(4),
			expectedFair:      5000000,
			expectedEquity:    0,
			expectedDeviation: 0,
			expectedClass:     models.ClassFair,
		},
		{
			name:              "Lower floor carries a discount",
			floor:             ptr(2),
			expectedFair:      4950000,
			expectedEquity:    50000,
			expectedDeviation: 1.01,
			expectedClass:     models.ClassFair,
		},
		{
			name:              "Unknown floor uses the baseline",
			expectedFair:      5000000,
			expectedEquity:    0,
			expectedDeviation: 0,
			expectedClass:     models.ClassFair,
		},
		{
			name:              "Far above the reference floor",
			floor:             ptr(44),
			expectedFair:      6000000,
			expectedEquity:    -1000000,
			expectedDeviation: -16.67,
			expectedClass:     models.ClassSuperDeal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := model.Estimate(Unit{SizeSqm: 50, SalePrice: ptr(5000000.0), Floor: tt.floor})
			assert.Equal(t, ModelProjectFloor, est.Model)
			require.NotNil(t, est.FairValue)
			require.NotNil(t, est.InstantEquity)
			require.NotNil(t, est.DeviationPct)
			require.NotNil(t, est.Class)
			assert.InDelta(t, tt.expectedFair, *est.FairValue, 0.01)
			assert.InDelta(t, tt.expectedEquity, *est.InstantEquity, 0.01)
			assert.InDelta(t, tt.expectedDeviation, *est.DeviationPct, 1e-9)
			assert.Equal(t, tt.expectedClass, *est.Class)
		})
	}
}
