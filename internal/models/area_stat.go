package models

import "time"

// AreaStat is the pre-aggregated market statistic for a (city, area, category)
// bucket. It is maintained elsewhere and only read here.
type AreaStat struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	City            string    `gorm:"not null;uniqueIndex:uq_area_stat,priority:1" json:"city"`
	Area            string    `gorm:"not null;uniqueIndex:uq_area_stat,priority:2" json:"area"`
	Category        string    `gorm:"not null;uniqueIndex:uq_area_stat,priority:3" json:"category"`
	AvgPricePerArea float64   `gorm:"not null" json:"avg_price_per_area"`
	SampleSize      int       `json:"sample_size"`
	UpdatedAt       time.Time `json:"updated_at"`
}
