// Package scoring computes the lead-quality score of a listing.
package scoring

import "propmarket/server/internal/models"

const (
	MinScore = 0
	MaxScore = 100

	viewPoints    = 2
	viewCap       = 30
	enquiryPoints = 10
	enquiryCap    = 40
)

// Input carries the engagement counters, listing age and valuation class.
// A zero Input is a brand-new listing without engagement or class and scores
// only the recency bonus.
type Input struct {
	ViewCount    int
	EnquiryCount int
	AgeDays      int
	Class        *models.ValuationClass
}

// LeadScore returns the lead-quality score clamped to [MinScore, MaxScore].
func LeadScore(in Input) int {
	score := capped(in.ViewCount*viewPoints, viewCap) +
		capped(in.EnquiryCount*enquiryPoints, enquiryCap) +
		recencyBonus(in.AgeDays) +
		classAdjustment(in.Class)

	return clamp(score, MinScore, MaxScore)
}

func capped(points, limit int) int {
	if points < 0 {
		return 0
	}
	if points > limit {
		return limit
	}
	return points
}

func recencyBonus(ageDays int) int {
	switch {
	case ageDays < 7:
		return 15
	case ageDays < 30:
		return 10
	case ageDays > 90:
		return -10
	default:
		return 0
	}
}

func classAdjustment(class *models.ValuationClass) int {
	if class == nil {
		return 0
	}
	switch *class {
	case models.ClassSuperDeal:
		return 15
	case models.ClassGoodValue, models.ClassHighYield:
		return 10
	case models.ClassOverpriced:
		return -15
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
