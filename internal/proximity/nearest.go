package proximity

import "propmarket/server/internal/models"

// nearestSlot is one convenience field and the POI categories that feed it,
// listed in tie-break order.
type nearestSlot struct {
	categories []models.POICategory
	assign     func(f *models.NearestFields, km *float64, name *string)
}

var nearestSlots = []nearestSlot{
	{categories: []models.POICategory{models.CategoryBeach}, assign: setBeach},
	{categories: []models.POICategory{models.CategoryShoppingMall}, assign: setMall},
	{categories: []models.POICategory{models.CategoryHospital}, assign: setHospital},
	{categories: []models.POICategory{models.CategoryInternationalSchool}, assign: setIntlSchool},
	// Shared by both station networks. On an exact tie BTS wins.
	{categories: []models.POICategory{models.CategoryRailBTS, models.CategoryRailMRT}, assign: setRailStation},
}

func setBeach(f *models.NearestFields, km *float64, name *string) {
	f.BeachKm, f.BeachName = km, name
}

func setMall(f *models.NearestFields, km *float64, name *string) {
	f.MallKm, f.MallName = km, name
}

func setHospital(f *models.NearestFields, km *float64, name *string) {
	f.HospitalKm, f.HospitalName = km, name
}

func setIntlSchool(f *models.NearestFields, km *float64, name *string) {
	f.IntlSchoolKm, f.IntlSchoolName = km, name
}

func setRailStation(f *models.NearestFields, km *float64, name *string) {
	f.RailStationKm, f.RailStationName = km, name
}

// DeriveNearest computes the convenience fields from a listing's fact rows.
// Each field takes the minimum distance over its categories; ties inside a
// category go to the lowest POI id, ties across categories to the category
// listed first. The result does not depend on the order of facts.
func DeriveNearest(facts []models.NearbyPOI) models.NearestFields {
	best := make(map[models.POICategory]models.NearbyPOI)
	for _, f := range facts {
		cur, ok := best[f.Category]
		if !ok || f.DistanceKm < cur.DistanceKm || (f.DistanceKm == cur.DistanceKm && f.POIID < cur.POIID) {
			best[f.Category] = f
		}
	}

	var fields models.NearestFields
	for _, slot := range nearestSlots {
		var winner *models.NearbyPOI
		for _, category := range slot.categories {
			candidate, ok := best[category]
			if !ok {
				continue
			}
			if winner == nil || candidate.DistanceKm < winner.DistanceKm {
				c := candidate
				winner = &c
			}
		}
		if winner == nil {
			continue
		}
		km := winner.DistanceKm
		name := winner.Name
		slot.assign(&fields, &km, &name)
	}
	return fields
}
