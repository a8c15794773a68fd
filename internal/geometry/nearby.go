// Package geometry renders nearby query results as GeoJSON.
package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"propmarket/server/internal/models"
)

// NearbyFeatureCollection returns the listing as a point feature, one point
// feature per nearby POI and, when at least three distinct locations are
// involved, the convex hull around them as a "reach" polygon. The collection
// carries the bounding box of every point.
func NearbyFeatureCollection(listing *models.Listing, rows []models.NearbyPOI) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	points := make([]orb.Point, 0, len(rows)+1)

	if listing.HasCoordinates() {
		origin := listing.Point()
		points = append(points, origin)

		feature := geojson.NewFeature(origin)
		feature.ID = listing.ID
		feature.Properties = geojson.Properties{
			"role":  "listing",
			"title": listing.Title,
		}
		fc.Append(feature)
	}

	for _, row := range rows {
		p := orb.Point{row.Longitude, row.Latitude}
		points = append(points, p)

		feature := geojson.NewFeature(p)
		feature.ID = row.POIID
		feature.Properties = geojson.Properties{
			"role":            "poi",
			"name":            row.Name,
			"category":        string(row.Category),
			"tier":            string(row.Tier),
			"distance_km":     row.DistanceKm,
			"walking_minutes": row.WalkingMinutes,
			"driving_minutes": row.DrivingMinutes,
		}
		if row.NameLocal != nil {
			feature.Properties["name_local"] = *row.NameLocal
		}
		fc.Append(feature)
	}

	if len(points) == 0 {
		return fc
	}

	fc.BBox = geojson.NewBBox(orb.MultiPoint(points).Bound())

	if hull := ConvexHull(points); hull != nil {
		feature := geojson.NewFeature(orb.Polygon{hull})
		feature.Properties = geojson.Properties{
			"role":        "reach",
			"point_count": len(points),
		}
		fc.Append(feature)
	}

	return fc
}

// ConvexHull returns the closed, counter-clockwise convex hull of points, or
// nil when the points do not span an area.
func ConvexHull(points []orb.Point) orb.Ring {
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	unique := sorted[:0]
	for i, p := range sorted {
		if i == 0 || !p.Equal(sorted[i-1]) {
			unique = append(unique, p)
		}
	}
	if len(unique) < 3 {
		return nil
	}

	// Monotone chain: lower hull, then upper hull.
	hull := make([]orb.Point, 0, 2*len(unique))
	for _, p := range unique {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(unique) - 2; i >= 0; i-- {
		p := unique[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Collinear input collapses to a degenerate ring.
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}
