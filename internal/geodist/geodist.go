// Package geodist computes idealized great-circle distances and constant-speed
// travel time estimates between two coordinates.
package geodist

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	WalkingSpeedKmh = 5.0
	DrivingSpeedKmh = 30.0
)

// Distance returns the haversine distance in kilometers between two points
// given in orb's (lng, lat) order, in degrees. Coordinate validity is the
// caller's responsibility.
func Distance(a, b orb.Point) float64 {
	lat1 := toRadians(a.Lat())
	lat2 := toRadians(b.Lat())
	dLat := toRadians(b.Lat() - a.Lat())
	dLng := toRadians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Guard against h drifting past 1 for near-antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WalkingMinutes estimates walking time at a constant 5 km/h.
func WalkingMinutes(km float64) int {
	return int(math.Round(km / WalkingSpeedKmh * 60))
}

// DrivingMinutes estimates driving time at a constant 30 km/h.
func DrivingMinutes(km float64) int {
	return int(math.Round(km / DrivingSpeedKmh * 60))
}

// RoundTo rounds v half away from zero to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Estimate bundles a rounded distance with its derived travel times.
type Estimate struct {
	DistanceKm     float64
	WalkingMinutes int
	DrivingMinutes int
}

// Measure computes the distance between a and b rounded to meters, and the
// travel times derived from that rounded distance.
func Measure(a, b orb.Point) Estimate {
	km := RoundTo(Distance(a, b), 3)
	return Estimate{
		DistanceKm:     km,
		WalkingMinutes: WalkingMinutes(km),
		DrivingMinutes: DrivingMinutes(km),
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
