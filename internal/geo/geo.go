// Package geo decides whether device, phone and station positions
// agree. All comparisons are great-circle (haversine) distances; there
// is deliberately one distance function so thresholds stay comparable.
package geo

import (
	"math"

	"github.com/HerbHall/sidekick/pkg/models"
)

const (
	earthRadiusM = 6371000.0

	// MinStationSeparation is the closest two named stations may sit.
	// A point within half that of a station is unambiguously
	// attributable to it.
	MinStationSeparation = 60.0
	StationRadius        = MinStationSeparation / 2

	// DefaultMovementThreshold is how far the phone may drift from the
	// device's recorded position before the location is considered
	// stale.
	DefaultMovementThreshold = 200.0
)

// Distance returns the great-circle distance between two points in
// metres.
func Distance(a, b models.Coords) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// WithinStationRadius reports whether p is close enough to station to
// attribute a recording there. The boundary is inclusive.
func WithinStationRadius(p, station models.Coords) bool {
	return Distance(p, station) <= StationRadius
}

// MatchingStation returns the station the position falls inside,
// filtered to the given group and backend scope. When several match
// (possible only near a boundary), the most recently updated wins.
// Returns nil if none match.
func MatchingStation(locations []models.Location, p models.Coords, group string, isProd bool) *models.Location {
	var best *models.Location
	for i := range locations {
		loc := &locations[i]
		if loc.GroupName != group || loc.IsProd != isProd {
			continue
		}
		if !WithinStationRadius(p, loc.Coords) {
			continue
		}
		if best == nil || loc.UpdatedAt.After(best.UpdatedAt) {
			best = loc
		}
	}
	return best
}
